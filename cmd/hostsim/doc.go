/*
Hostsim runs simulated Linux hosts described by a TOML file.

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
finish. The HOSTSIM_LOG_LEVEL and HOSTSIM_TRACE environment variables override
the configured log level and trace format.

The 'check' command:

Usage: hostsim check config.toml

The check command parses the configuration and every script it refers to.

The 'pretty' command:

Usage: hostsim pretty

The pretty command reads JSON logs from standard input and renders them on
standard output.

# Scripts

Every process runs a script with one syscall per line:

	openat AT_FDCWD "/etc/hosts" O_RDONLY = *
	read $1 @buf 16 = 16
	expect @buf "127.0.0.1"
	close $1 = 0

Arguments are numbers, constants such as O_RDWR|O_CREAT, quoted strings
(passed by address), @buf and @buf+N scratch addresses, $N for the result of
the call on line N, and $last. The optional value after '=' is checked
against the result: a number, constant, $N, an errno name like EBADF, or '*'
for any success. A mismatch fails the process.
*/
package main
