/*
Package hostsim runs simulated Linux hosts whose processes issue raw x86_64
syscalls against an in-memory kernel.

Every process has its own descriptor table and address space. Each syscall is
dispatched by number: native handlers serve descriptors, pipes, memfds, and
process calls directly, and everything else is delegated unchanged to a
legacy subsystem that owns the filesystem-backed files and memory mappings.
A descriptor table can hold native and legacy files side by side, so native
handlers that receive a legacy descriptor forward that one call.

Hosts are described by a TOML file:

	trace = "slog"

	[[host]]
	name = "a"

	[[host.file]]
	path = "/etc/hosts"
	content = "127.0.0.1 localhost\n"

	[[host.process]]
	name = "reader"
	source = '''
	openat AT_FDCWD "/etc/hosts" O_RDONLY = *
	read $1 @buf 9 = 9
	expect @buf "127.0.0.1"
	'''

Processes run scripts, one syscall per line; see the script syntax in the
hostsim command documentation. A run is deterministic: hosts are independent
and each runs its processes one syscall at a time in a fixed order on a
virtual clock.

Use [LoadConfig] and [Run] to run a configuration from Go, or the hostsim
command from the shell.
*/
package hostsim
