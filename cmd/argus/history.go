package main

import (
	"context"
	"fmt"
	"io"

	"github.com/argusscan/argus/pkg/consent"
	"github.com/argusscan/argus/pkg/defaults"
	"github.com/argusscan/argus/pkg/finding"
	"github.com/argusscan/argus/pkg/store"
)

func runHistory(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	sub := "list"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		sub, args = args[0], args[1:]
	}
	switch sub {
	case "list", "ls":
		return runHistoryList(ctx, args, stdout, stderr)
	case "show":
		return runHistoryShow(ctx, args, stdout, stderr)
	case "critical":
		return runHistoryCritical(ctx, args, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown history command %q (want list, show or critical)\n", sub)
		return errUsage
	}
}

func runHistoryList(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("history list", stderr)
	var cf commonFlags
	cf.register(fs)
	domain := fs.String("domain", "", "Only scans of this domain")
	status := fs.String("status", "", "Only scans with this status: running, completed, failed, aborted")
	limit := fs.Int("limit", defaults.ListLimit, "Maximum number of scans")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	f := store.Filter{Limit: *limit}
	if *domain != "" {
		d, err := consent.NormalizeDomain(*domain)
		if err != nil {
			return err
		}
		f.Domain = d
	}
	if *status != "" {
		s, err := store.ParseStatus(*status)
		if err != nil {
			return err
		}
		f.Status = s
	}

	a, st, err := openHistory(ctx, &cf, stdout, stderr)
	if err != nil {
		return err
	}
	defer a.close()

	list, err := st.ListSessions(ctx, f)
	if err != nil {
		return err
	}
	if a.jsonOut {
		if list == nil {
			list = []store.Session{}
		}
		return a.emitJSON(list)
	}
	a.out.Sessions(list)
	return nil
}

func runHistoryShow(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("history show", stderr)
	var cf commonFlags
	cf.register(fs)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: argus history show [flags] <scan-id>")
		fs.PrintDefaults()
	}
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return usageError(fs, "history show needs one scan id")
	}

	a, st, err := openHistory(ctx, &cf, stdout, stderr)
	if err != nil {
		return err
	}
	defer a.close()

	sess, err := st.GetSession(ctx, pos[0])
	if err != nil {
		return err
	}
	found, err := st.Findings(ctx, sess.ID)
	if err != nil {
		return err
	}
	if a.jsonOut {
		if found == nil {
			found = []finding.Finding{}
		}
		return a.emitJSON(struct {
			Session  store.Session     `json:"session"`
			Findings []finding.Finding `json:"findings"`
		}{sess, found})
	}
	a.out.Session(sess)
	a.out.Findings(found)
	return nil
}

func runHistoryCritical(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("history critical", stderr)
	var cf commonFlags
	cf.register(fs)
	limit := fs.Int("limit", defaults.ListLimit, "Maximum number of findings")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	a, st, err := openHistory(ctx, &cf, stdout, stderr)
	if err != nil {
		return err
	}
	defer a.close()

	list, err := st.CriticalFindings(ctx, *limit)
	if err != nil {
		return err
	}
	if a.jsonOut {
		if list == nil {
			list = []store.CriticalFinding{}
		}
		return a.emitJSON(list)
	}
	a.out.CriticalFindings(list)
	return nil
}

func openHistory(ctx context.Context, cf *commonFlags, stdout, stderr io.Writer) (*app, *store.Store, error) {
	a, err := newApp(cf, stdout, stderr, nil)
	if err != nil {
		return nil, nil, err
	}
	st, err := a.openStore(ctx)
	if err != nil {
		a.close()
		return nil, nil, err
	}
	return a, st, nil
}
