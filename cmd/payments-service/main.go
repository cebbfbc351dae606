package main

import (
	"log"

	"gozon/checkout/internal/app"
)

func main() {
	if err := app.RunPayments(); err != nil {
		log.Fatalf("payments service failed: %v", err)
	}
}
