// Package main: точка входа live-session-service (HTTP + WebSocket).
package main

import (
	"log"

	"github.com/psds-microservice/live-session-service/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
