// Package ws предоставляет WebSocket клиент с закреплённым сертификатом и
// автоматическим переподключением:
//   - TLS соединение доверяет только одному CA, загруженному из ресурсов приложения
//   - Heartbeat: protocol-level ping раз в 30 секунд, пока соединение открыто
//   - После любого разрыва клиент ждёт 5 секунд, проверяет доступность сети
//     и подключается заново (новый транспорт, новое TLS рукопожатие, новые заголовки)
//   - Простой pub/sub по имени события: Emit и On
//
// # Клиент
//
//	cfg := ws.DefaultClientConfig(
//	    "wss://example.test:8888/chan",
//	    "ca.crt",
//	    ws.FSLoader{FS: assets}, // например, embed.FS
//	)
//	client, err := ws.NewClient(cfg)
//	if err != nil {
//	    return err // только ошибки конфигурации
//	}
//	defer client.Close()
//
//	client.On("chat", func(data string) {
//	    fmt.Println("chat:", data)
//	})
//	client.Emit("chat", "hi")
//
// Emit отправляет сообщение, только если соединение открыто, иначе ничего
// не делает. Ошибки сети, TLS и разбора сообщений не возвращаются вызывающему:
// они логируются, а клиент переподключается.
//
// # Состояния
//
//	DISCONNECTED -> CONNECTING -> OPEN -> RECONNECT_WAITING -> CONNECTING -> ...
//	                          \-> RECONNECT_WAITING
//	OPEN -> CLOSING -> DISCONNECTED (Close)
//
// Попытки подключения, открытое соединение и ожидание переподключения
// выполняются последовательно в одной горутине. Heartbeat живёт только в OPEN
// и останавливается до выхода из него.
//
// # Протокол сообщений
//
// Каждое сообщение - текстовый кадр с JSON объектом ровно из двух строковых полей:
//
//	{"event": "chat", "data": "hi"}
//
// Всё остальное отбрасывается.
//
// # Сервер
//
// Server говорит тем же форматом и используется в тестах и в cmd/wsclient:
//
//	server := ws.NewServer(ws.DefaultServerConfig())
//	server.Handle("chat", func(ctx context.Context, conn *ws.ServerConn, data string) {
//	    conn.Emit("chat", data)
//	})
//	http.Handle("/chan", server)
package ws
