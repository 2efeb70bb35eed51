package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"github.com/mallardjs/mallard"
	"github.com/mallardjs/mallard/enginetest"
)

var (
	code    = flag.String("c", "", "expression to evaluate")
	verbose = flag.Bool("v", false, "enable debug logging")
	debug   = flag.String("debug-listen", "", "wait for a debugger on this address before evaluating")
)

func main() {
	flag.Parse()

	source := *code
	filename := "cmdline"
	if source == "" {
		if flag.NArg() != 1 {
			fatal("usage: mallard [-c expr] [-v] [--debug-listen addr] [file]")
		}
		filename = flag.Arg(0)
		data, err := os.ReadFile(filename)
		if err != nil {
			fatal(err.Error())
		}
		source = string(data)
	}

	opts := []mallard.Option{mallard.WithStackCheck()}
	if *verbose {
		log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
		opts = append(opts, mallard.WithLogger(log))
	}

	ctx, err := mallard.New(enginetest.New(), opts...)
	if err != nil {
		fatal(err.Error())
	}
	defer ctx.Close()

	if *debug != "" {
		if err := ctx.WaitForDebugger(*debug); err != nil {
			fatal(err.Error())
		}
	}

	result, err := ctx.Evaluate(source, filename)
	if err != nil {
		fatal(err.Error())
	}
	if result != nil {
		fmt.Println(result)
	}
}

func fatal(msg string) {
	if isTerminal(os.Stderr) {
		msg = color.RedString(msg)
	}
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
