package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path"

	"github.com/kmrgirish/hostsim"
	"github.com/kmrgirish/hostsim/internal/prettylog"
)

const doc = `Hostsim runs simulated Linux hosts described by a TOML file.

Usage: hostsim <command> [arguments]

The commands are:

    run            run a simulation
    check          validate a configuration
    pretty         render JSON logs for a console
    help           print this help

The 'run' command:

Usage: hostsim run [-pretty] [-trace=slog|zap] [-log=file] config.toml

The run command runs every host in the configuration to completion and writes
the log to standard error, or to the -log file. It prints one line per process
and exits with status 1 if any process failed or the simulation could not
finish.

The -pretty flag renders the log for a console instead of as JSON lines. The
-trace flag logs every syscall, through slog or through zap.

The 'check' command:

Usage: hostsim check config.toml

The check command parses the configuration and every script it refers to.

The 'pretty' command:

Usage: hostsim pretty

The pretty command reads JSON logs from standard input, such as those written
by 'hostsim run -log', and renders them on standard output.
`

func commandName(cmd string) string {
	return fmt.Sprintf("%s %s", path.Base(os.Args[0]), cmd)
}

// errFailed reports a run where some process failed, and errUsage a bad
// flag. The details have already been printed.
var (
	errFailed = errors.New("some processes failed")
	errUsage  = errors.New("usage")
)

type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }

func main() {
	os.Exit(hostsimMain(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func hostsimMain(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet(path.Base(os.Args[0]), flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() {
		fmt.Fprint(stderr, doc)
	}
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if flags.NArg() < 1 {
		flags.Usage()
		return 2
	}
	cmd := flags.Arg(0)
	cmdArgs := flags.Args()[1:]

	var err error
	switch cmd {
	case "run":
		err = runCmd(cmdArgs, stdout, stderr)
	case "check":
		err = checkCmd(cmdArgs, stdout, stderr)
	case "pretty":
		err = prettyCmd(stdin, stdout)
	case "help":
		fmt.Fprint(stdout, doc)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		flags.Usage()
		return 2
	}

	var usage usageError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &usage):
		fmt.Fprintln(stderr, err)
		return 2
	case errors.Is(err, errUsage):
		return 2
	case errors.Is(err, errFailed), errors.Is(err, flag.ErrHelp):
		return 1
	default:
		fmt.Fprintln(stderr, err)
		return 1
	}
}

func parseError(err error) error {
	if errors.Is(err, flag.ErrHelp) {
		return err
	}
	return errUsage
}

func runCmd(args []string, stdout, stderr io.Writer) error {
	runflags := flag.NewFlagSet(commandName("run"), flag.ContinueOnError)
	runflags.SetOutput(stderr)
	pretty := runflags.Bool("pretty", false, "render logs for a console")
	trace := runflags.String("trace", "", "trace syscalls (slog or zap)")
	logFile := runflags.String("log", "", "write logs to this file instead of stderr")
	if err := runflags.Parse(args); err != nil {
		return parseError(err)
	}
	if runflags.NArg() != 1 {
		return usageError{errors.New("usage: hostsim run [-pretty] [-trace=slog|zap] [-log=file] config.toml")}
	}

	cfg, err := hostsim.LoadConfig(runflags.Arg(0))
	if err != nil {
		return err
	}

	var logOut io.Writer = stderr
	if *logFile != "" {
		f, err := os.Create(*logFile)
		if err != nil {
			return err
		}
		defer f.Close()
		logOut = f
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := hostsim.Run(ctx, cfg, hostsim.RunOptions{
		Log:    logOut,
		Pretty: *pretty,
		Trace:  *trace,
	})
	if err != nil {
		return err
	}

	failed := false
	for _, h := range res.Hosts {
		for _, p := range h.Processes {
			status := "ok"
			if p.Failed() {
				failed = true
				status = fmt.Sprintf("exit %d", p.ExitCode)
				if p.Err != nil {
					status += ": " + p.Err.Error()
				}
			}
			fmt.Fprintf(stdout, "%s/%d %s: %s\n", h.Name, p.PID, p.Name, status)
		}
	}
	if failed {
		return errFailed
	}
	return nil
}

func checkCmd(args []string, stdout, stderr io.Writer) error {
	checkflags := flag.NewFlagSet(commandName("check"), flag.ContinueOnError)
	checkflags.SetOutput(stderr)
	if err := checkflags.Parse(args); err != nil {
		return parseError(err)
	}
	if checkflags.NArg() != 1 {
		return usageError{errors.New("usage: hostsim check config.toml")}
	}
	cfg, err := hostsim.LoadConfig(checkflags.Arg(0))
	if err != nil {
		return err
	}
	if err := hostsim.Check(cfg); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: ok\n", checkflags.Arg(0))
	return nil
}

func prettyCmd(stdin io.Reader, stdout io.Writer) error {
	w := prettylog.NewWriter(stdout)
	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 64<<10), 16<<20)
	for scanner.Scan() {
		line := append(scanner.Bytes(), '\n')
		if _, err := w.Write(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}
