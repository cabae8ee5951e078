package cli

import (
	"bufio"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/c-bata/go-prompt"
	"github.com/mattn/go-isatty"
)

// MainLoop runs interactive prompt on terminal, otherwise feeds exec with stdin lines.
// done is called once when input ends.
func MainLoop(tag string, exec func(line string), complete func(d prompt.Document) []prompt.Suggest, done func()) {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	go func() {
		for range signalCh {
			os.Exit(1)
		}
	}()

	if isatty.IsTerminal(os.Stdin.Fd()) {
		prompt.New(exec, complete,
			prompt.OptionPrefix(tag+"> "),
			prompt.OptionTitle(tag),
		).Run()
	} else {
		if err := FeedLines(os.Stdin, exec); err != nil {
			log.Fatal(err)
		}
	}
	if done != nil {
		done()
	}
}

// FeedLines calls exec for every line of r without line terminators.
func FeedLines(r io.Reader, exec func(line string)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		exec(strings.TrimRight(scanner.Text(), "\r"))
	}
	return scanner.Err()
}
