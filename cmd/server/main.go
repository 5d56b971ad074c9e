package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Tyrowin/roomchat/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "roomchat:", err)
		os.Exit(1)
	}
}
