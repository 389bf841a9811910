package main

import (
	"github.com/meridianhq/telemetry-backend/internal/bootstrap"
)

func main() {
	bootstrap.Run()
}
