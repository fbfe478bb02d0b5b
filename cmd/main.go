package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/log"

	"snapmir/internal/logger"
	"snapmir/internal/runner"
	"snapmir/pkg/color"
)

// listFlag collects a flag that may be given several times.
type listFlag []string

func (l *listFlag) String() string {
	return strings.Join(*l, ",")
}

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// Main entry point for the snapmir interpreter.
func main() {
	options := runner.Options{}
	var libs, overrides listFlag

	flag.BoolVar(&options.Help, "h", false, "Show help")
	flag.BoolVar(&options.Verbose, "v", false, "Verbose mode")
	flag.BoolVar(&options.NoColor, "n", false, "No color")
	flag.StringVar(&options.Entry, "entry", "", "Function to run (default main)")
	flag.StringVar(&options.ConfigFile, "config", "", "YAML run configuration")
	flag.Var(&libs, "lib", "Native library or wasm module for foreign calls (repeatable)")
	flag.Var(&overrides, "override", "Run this function natively even if the program defines it (repeatable)")
	flag.IntVar(&options.MaxDepth, "max-depth", 0, "Call depth limit (default 1024)")
	flag.IntVar(&options.MaxSteps, "max-steps", 0, "Step limit, 0 for none")
	flag.IntVar(&options.MaxMemory, "max-memory", 0, "Live memory limit in bytes, 0 for none")
	flag.DurationVar(&options.Timeout, "timeout", 0, "Wall clock limit, e.g. 5s")
	flag.StringVar(&options.Emit, "emit", "", "Write the program as mirb, yaml or mir instead of running it")
	flag.BoolVar(&options.Dump, "dump", false, "Print the program as text instead of running it")

	flag.Parse()
	args := flag.Args()

	logger.Init(options.Verbose, options.NoColor)
	if options.Help {
		fmt.Printf("Usage: %s [options] <file>\n", os.Args[0])
		fmt.Println("Options:")
		flag.PrintDefaults()
		return
	}

	if options.NoColor {
		color.EnableColor(false)
	}

	if len(args) == 0 {
		log.Fatal("No input file provided", "help", fmt.Sprintf("%s -h", os.Args[0]))
	}

	options.SourceFile = args[0]
	options.Libs = libs
	options.Overrides = overrides

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code, err := options.Run(ctx)
	stop()
	if err != nil {
		log.Fatal("Run failed", "error", err)
	}
	os.Exit(code)
}
