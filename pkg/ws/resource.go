package ws

import (
	"encoding/base64"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// ResourceLoader отдаёт байты ресурса приложения по его имени.
// Ядро не знает, где лежат ресурсы: это решает владелец ассетов.
type ResourceLoader interface {
	Load(name string) ([]byte, error)
}

// FSLoader читает ресурсы из fs.FS, например из embed.FS или os.DirFS.
type FSLoader struct {
	FS fs.FS
}

func (l FSLoader) Load(name string) ([]byte, error) {
	if l.FS == nil {
		return nil, fmt.Errorf("%w: %s: no filesystem", ErrResourceUnavailable, name)
	}

	data, err := fs.ReadFile(l.FS, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrResourceUnavailable, name, err)
	}

	return data, nil
}

// EnvLoader берёт ресурс из переменной окружения с именем ресурса.
// Значение - сертификат (PEM или DER) в base64.
type EnvLoader struct {
	Lookup func(key string) (string, bool) // nil - os.LookupEnv
}

func (l EnvLoader) Load(name string) ([]byte, error) {
	lookup := l.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}

	value, ok := lookup(name)
	if !ok || strings.TrimSpace(value) == "" {
		return nil, fmt.Errorf("%w: environment variable %s is not set", ErrResourceUnavailable, name)
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s: %w", ErrResourceUnavailable, name, err)
	}

	return data, nil
}

// BytesLoader - ресурсы в памяти.
type BytesLoader map[string][]byte

func (l BytesLoader) Load(name string) ([]byte, error) {
	data, ok := l[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrResourceUnavailable, name)
	}

	return data, nil
}
