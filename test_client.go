package main

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/annel0/match-replay/internal/auth"
	"github.com/annel0/match-replay/internal/protocol"
)

func main() {
	fmt.Println("=== ТЕСТОВЫЙ КЛИЕНТ СЕРВИСА ВОСПРОИЗВЕДЕНИЯ ===")

	// Токен контролирующего игрока (сервер должен использовать тот же секрет)
	token, err := auth.GenerateViewerToken("test-player", protocol.RolePlayer, true)
	if err != nil {
		log.Fatalf("Ошибка генерации токена: %v", err)
	}

	url := fmt.Sprintf("ws://localhost:8090/ws?token=%s", token)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Fatalf("Ошибка подключения: %v", err)
	}
	defer conn.Close()

	fmt.Println("✅ Подключен к серверу")

	// Читаем события в фоне
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				fmt.Printf("❌ Соединение закрыто: %v\n", err)
				return
			}
			var ev protocol.Event
			if err := json.Unmarshal(data, &ev); err != nil {
				fmt.Printf("⚠️ Неразборчивое событие: %s\n", data)
				continue
			}
			switch ev.Type {
			case protocol.EventScoreUpdate:
				fmt.Printf("📥 Чанк #%d: %s\n", ev.Cursor, ev.Data)
			case protocol.EventJoin:
				fmt.Printf("🎾 Подключен к сессии: state=%s cursor=%d speed=%.1f\n", ev.State, ev.Cursor, ev.Speed)
			case protocol.EventCompleted:
				fmt.Printf("🏁 Воспроизведение завершено на курсоре %d\n", ev.Cursor)
			case protocol.EventError:
				fmt.Printf("❌ Отказ: %s (%s)\n", ev.Reason, ev.Detail)
			default:
				fmt.Printf("📨 %s: %s\n", ev.Type, data)
			}
		}
	}()

	send := func(msg protocol.ControlMessage) {
		data, _ := json.Marshal(msg)
		fmt.Printf("📤 Отправка: %s\n", data)
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Fatalf("Ошибка отправки: %v", err)
		}
	}

	fmt.Println("\n=== ТЕСТ 1: ЗАПУСК ВОСПРОИЗВЕДЕНИЯ ===")
	send(protocol.ControlMessage{Action: protocol.ActionStart, MatchID: "match_1", Mode: protocol.ModePvP, Delay: 1.0})
	time.Sleep(3 * time.Second)

	fmt.Println("\n=== ТЕСТ 2: ПАУЗА И ВОЗОБНОВЛЕНИЕ ===")
	send(protocol.ControlMessage{Action: protocol.ActionPause, MatchID: "match_1"})
	time.Sleep(2 * time.Second)
	send(protocol.ControlMessage{Action: protocol.ActionResume, MatchID: "match_1"})
	time.Sleep(2 * time.Second)

	fmt.Println("\n=== ТЕСТ 3: УСКОРЕНИЕ ===")
	send(protocol.ControlMessage{Action: protocol.ActionSpeed, MatchID: "match_1", Speed: 4.0})
	time.Sleep(3 * time.Second)

	fmt.Println("\n=== ТЕСТ 4: ПЕРЕМОТКА ===")
	pos := int64(0)
	send(protocol.ControlMessage{Action: protocol.ActionScrub, MatchID: "match_1", Position: &pos})
	time.Sleep(2 * time.Second)

	send(protocol.ControlMessage{Action: protocol.ActionStop, MatchID: "match_1"})
	fmt.Println("\n=== ТЕСТИРОВАНИЕ ЗАВЕРШЕНО ===")
	time.Sleep(time.Second)
}
