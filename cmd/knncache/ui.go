package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

var (
	bold  = color.New(color.Bold)
	green = color.New(color.FgGreen, color.Bold)
	red   = color.New(color.FgRed, color.Bold)
	cyan  = color.New(color.FgCyan)
	faint = color.New(color.Faint)
)

func showError(err error) {
	red.Fprint(os.Stderr, "error: ")
	fmt.Fprintln(os.Stderr, err)
}

func showSuccess(format string, args ...any) {
	green.Print("✓ ")
	fmt.Printf(format+"\n", args...)
}

func showField(name string, value any) {
	cyan.Printf("  %-22s", name)
	fmt.Println(value)
}
