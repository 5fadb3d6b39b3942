package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers a "config show" command, giving
// callers visibility into the effective values after all override layers
// (defaults -> file -> env -> CLI) have been applied.
func RenderEffective(ra *ResolvedAccount, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration for account %q\n\n", ra.Name)

	renderAccountSection(ew, ra)
	renderTransfersSection(ew, &ra.Transfers)
	renderLoggingSection(ew, &ra.Logging)
	renderNetworkSection(ew, &ra.Network)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderAccountSection(ew *errWriter, ra *ResolvedAccount) {
	ew.printf("[account]\n")
	ew.printf("  name     = %q\n", ra.Name)
	ew.printf("  provider = %q\n", ra.ProviderName())

	for k, v := range ra.Hints {
		if k == hintProviderName {
			continue
		}

		ew.printf("  hints.%s = %q\n", k, v)
	}

	ew.printf("\n")
}

func renderTransfersSection(ew *errWriter, t *TransfersConfig) {
	ew.printf("[transfers]\n")
	ew.printf("  parallel_downloads = %d\n", t.ParallelDownloads)
	ew.printf("  parallel_uploads   = %d\n", t.ParallelUploads)
	ew.printf("  chunk_size         = %q\n", t.ChunkSize)
	ew.printf("  bandwidth_limit    = %q\n", t.BandwidthLimit)
	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingConfig) {
	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", l.LogLevel)

	if l.LogFile != "" {
		ew.printf("  log_file   = %q\n", l.LogFile)
	}

	ew.printf("  log_format = %q\n", l.LogFormat)
	ew.printf("\n")
}

func renderNetworkSection(ew *errWriter, n *NetworkConfig) {
	ew.printf("[network]\n")
	ew.printf("  connect_timeout = %q\n", n.ConnectTimeout)
	ew.printf("  data_timeout    = %q\n", n.DataTimeout)

	if n.UserAgent != "" {
		ew.printf("  user_agent      = %q\n", n.UserAgent)
	}
}
