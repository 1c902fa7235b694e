package main

import (
	"log"

	"github.com/walid-hamdi/Comminq-backend/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
