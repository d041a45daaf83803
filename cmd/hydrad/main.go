package main

import (
	"fmt"
	"os"
	"reflect"

	"github.com/spf13/cobra"
)

var (
	// Flags.
	addr    string // api address hydrad serve listens on / status polls
	dataDir string // directory hydrad serve persists its files-list index in

	// Globals.
	rootCmd *cobra.Command
)

// Exit codes. Inspired by sysexits.h, same convention siac uses.
const (
	exitCodeGeneral = 1
	exitCodeUsage   = 64
)

func die(args ...interface{}) {
	fmt.Fprintln(os.Stderr, args...)
	os.Exit(exitCodeGeneral)
}

// wrap adapts fn, whose parameters must all be strings, into a cobra Run
// function that maps positional args onto them by position. Lifted from
// cmd/siac's identical helper.
func wrap(fn interface{}) func(*cobra.Command, []string) {
	fnVal, fnType := reflect.ValueOf(fn), reflect.TypeOf(fn)
	if fnType.Kind() != reflect.Func {
		panic("wrapped function has wrong type signature")
	}
	for i := 0; i < fnType.NumIn(); i++ {
		if fnType.In(i).Kind() != reflect.String {
			panic("wrapped function has wrong type signature")
		}
	}

	return func(cmd *cobra.Command, args []string) {
		if len(args) != fnType.NumIn() {
			cmd.UsageFunc()(cmd)
			os.Exit(exitCodeUsage)
		}
		argVals := make([]reflect.Value, fnType.NumIn())
		for i := range args {
			argVals[i] = reflect.ValueOf(args[i])
		}
		fnVal.Call(argVals)
	}
}

func main() {
	rootCmd = &cobra.Command{
		Use:           os.Args[0],
		Short:         "hydrad is a file-sharing download daemon",
		Long:          "hydrad hosts the chunked-download engine and its read-only introspection API.",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "localhost:8720", "address hydrad's api listens on / status polls")
	rootCmd.PersistentFlags().StringVar(&dataDir, "dir", defaultDataDir(), "directory hydrad serve persists its files-list index in")

	rootCmd.AddCommand(serveCmd, downloadCmd, statusCmd)

	if err := rootCmd.Execute(); err != nil {
		die(err)
	}
}
