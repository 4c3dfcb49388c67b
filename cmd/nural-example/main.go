package main

import (
	"os"

	"github.com/dalemusser/nural/internal/example"
)

func main() {
	os.Exit(example.Run("nural-example", os.Args[1:]))
}
