package main

import (
	"context"
	"os"

	_ "go.uber.org/automaxprocs"
)

func main() {
	os.Exit(submain(context.Background()))
}
