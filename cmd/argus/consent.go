package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/argusscan/argus/pkg/consent"
	"github.com/argusscan/argus/pkg/defaults"
)

func runConsent(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: argus consent <gen|verify|status> [flags] <domain> [token]")
		return errUsage
	}
	switch args[0] {
	case "gen", "generate":
		return runConsentGen(ctx, args[1:], stdout, stderr)
	case "verify":
		return runConsentVerify(ctx, args[1:], stdout, stderr)
	case "status", "list":
		return runConsentStatus(ctx, args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown consent command %q (want gen, verify or status)\n", args[0])
		return errUsage
	}
}

func runConsentGen(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("consent gen", stderr)
	var cf commonFlags
	cf.register(fs)
	method := fs.String("method", defaults.MethodHTTP, "Verification method: http or dns")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: argus consent gen [flags] <domain>")
		fs.PrintDefaults()
	}
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return usageError(fs, "consent gen needs one domain")
	}
	m, err := consent.ParseMethod(*method)
	if err != nil {
		return err
	}

	a, cs, err := openConsent(ctx, &cf, stdout, stderr)
	if err != nil {
		return err
	}
	defer a.close()

	tok, err := cs.Generate(ctx, pos[0], m)
	if err != nil {
		return err
	}
	text, err := consent.Instructions(tok)
	if err != nil {
		return err
	}
	if a.jsonOut {
		return a.emitJSON(struct {
			Token        consent.Token `json:"token"`
			Instructions string        `json:"instructions"`
		}{tok, text})
	}
	a.out.Success("consent token generated for " + tok.Domain)
	a.out.Text("")
	a.out.Text(text)
	return nil
}

func runConsentVerify(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("consent verify", stderr)
	var cf commonFlags
	cf.register(fs)
	method := fs.String("method", defaults.MethodHTTP, "Verification method: http or dns")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: argus consent verify [flags] <domain> <token>")
		fs.PrintDefaults()
	}
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 2 {
		return usageError(fs, "consent verify needs a domain and a token")
	}
	m, err := consent.ParseMethod(*method)
	if err != nil {
		return err
	}

	a, cs, err := openConsent(ctx, &cf, stdout, stderr)
	if err != nil {
		return err
	}
	defer a.close()

	tok, err := cs.Verify(ctx, m, pos[0], pos[1])
	if err != nil {
		return err
	}
	if a.jsonOut {
		return a.emitJSON(tok)
	}
	a.out.Success(fmt.Sprintf("%s verified over %s", tok.Domain, tok.Method))
	a.out.Field("Token", consent.ShortToken(tok.Value))
	a.out.Field("Expires", tok.ExpiresAt.Local().Format(time.RFC3339))
	if tok.ProofPath != "" {
		a.out.Field("Proof", tok.ProofPath)
	}
	return nil
}

func runConsentStatus(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("consent status", stderr)
	var cf commonFlags
	cf.register(fs)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: argus consent status [flags] <domain>")
		fs.PrintDefaults()
	}
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return usageError(fs, "consent status needs one domain")
	}

	a, cs, err := openConsent(ctx, &cf, stdout, stderr)
	if err != nil {
		return err
	}
	defer a.close()

	st, err := cs.Status(ctx, pos[0])
	if err != nil {
		return err
	}
	if a.jsonOut {
		for i := range st.Tokens {
			st.Tokens[i].Token.Value = consent.ShortToken(st.Tokens[i].Token.Value)
		}
		return a.emitJSON(st)
	}
	a.out.ConsentStatus(st, time.Now())
	return nil
}

func openConsent(ctx context.Context, cf *commonFlags, stdout, stderr io.Writer) (*app, *consent.Store, error) {
	a, err := newApp(cf, stdout, stderr, nil)
	if err != nil {
		return nil, nil, err
	}
	st, err := a.openStore(ctx)
	if err != nil {
		a.close()
		return nil, nil, err
	}
	cs, err := a.consentStore(st)
	if err != nil {
		a.close()
		return nil, nil, err
	}
	return a, cs, nil
}
