// p1-cli decodes telegrams typed or pasted into console, or read from serial device.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/p1relay/hardware/serial"
	"github.com/temoto/p1relay/helpers/cli"
	"github.com/temoto/p1relay/internal/state"
	"github.com/temoto/p1relay/log2"
	"github.com/temoto/p1relay/p1"
)

const usage = `syntax: telegram lines, record is printed after "!" footer line
(meta)
- help     this text
- ids      list known OBIS identifiers
- log=yes  enable debug logging
- log=no   disable debug logging
`

var log = log2.NewStderr(log2.LInfo)

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	tz := cmdline.String("tz", state.DefaultTimezone, "meter clock time zone")
	devicePath := cmdline.String("device", "", "read serial device instead of console input")
	baudRate := cmdline.Int("baud", serial.DefaultBaudRate, "")
	parity := cmdline.String("parity", serial.DefaultParity, "N|E|O")
	_ = cmdline.Parse(os.Args[1:])

	log.SetFlags(log2.LInteractiveFlags)
	loc, err := time.LoadLocation(*tz)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	ctx := log2.ContextWithLogger(context.Background(), log)

	if *devicePath != "" {
		port, err := serial.Open(&serial.Config{
			Path:     *devicePath,
			BaudRate: *baudRate,
			Parity:   strings.ToUpper(*parity),
			Timeout:  state.DefaultSerialTimeout,
		}, log)
		if err != nil {
			log.Fatal(errors.ErrorStack(err))
		}
		defer port.Close()
		if err = printRecords(ctx, p1.NewReader(port, loc, log), os.Stdout); err != nil {
			log.Fatal(errors.ErrorStack(err))
		}
		return
	}

	pr, pw := io.Pipe()
	reader := p1.NewReader(serial.NewNullPort(pr), loc, log)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := printRecords(ctx, reader, os.Stdout); err != nil {
			log.Error(errors.ErrorStack(err))
		}
	}()
	cli.MainLoop("p1-cli", newExecutor(pw, os.Stdout), newCompleter(), func() {
		_ = pw.Close()
		<-done
	})
}

// printRecords writes every decoded record as JSON until source ends.
func printRecords(ctx context.Context, reader *p1.Reader, w io.Writer) error {
	for {
		rec, err := reader.Next(ctx)
		if err != nil {
			if pe, ok := err.(*p1.ParseError); ok {
				log.Errorf("%v", pe)
				continue
			}
			if err == io.EOF || errors.Cause(err) == p1.ErrSourceClosed {
				return nil
			}
			return err
		}
		b, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return errors.Trace(err)
		}
		if _, err = fmt.Fprintf(w, "%s\n", b); err != nil {
			return errors.Trace(err)
		}
	}
}

func newExecutor(lines io.Writer, out io.Writer) func(string) {
	return func(line string) {
		switch strings.TrimSpace(line) {
		case "help":
			fmt.Fprint(out, usage)
			return
		case "ids":
			for _, id := range p1.Identifiers {
				fmt.Fprintf(out, "%-12s %-20s %s\n", id.ID, id.Attr.String(), id.Description)
			}
			return
		case "log=yes":
			log.SetLevel(log2.LDebug)
			return
		case "log=no":
			log.SetLevel(log2.LInfo)
			return
		}
		if _, err := io.WriteString(lines, line+"\n"); err != nil {
			log.Errorf("input err=%v", err)
		}
	}
}

func newCompleter() func(d prompt.Document) []prompt.Suggest {
	suggests := []prompt.Suggest{
		{Text: "help", Description: "show syntax"},
		{Text: "ids", Description: "list known OBIS identifiers"},
		{Text: "log=yes", Description: "enable debug logging"},
		{Text: "log=no", Description: "disable debug logging"},
	}
	for _, id := range p1.Identifiers {
		suggests = append(suggests, prompt.Suggest{Text: id.ID + "(", Description: id.Description})
	}

	return func(d prompt.Document) []prompt.Suggest {
		if strings.Contains(d.TextBeforeCursor(), "(") {
			return nil
		}
		return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
	}
}
