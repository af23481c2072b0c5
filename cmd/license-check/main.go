// Command license-check runs one client resolution cycle against an
// entitlement server and prints the outcome. Diagnostic tool; it always
// exits 0 so support scripts can capture the output unconditionally.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"keygate/internal/license"
	"keygate/internal/token"
	"keygate/internal/updater"
)

func main() {
	var (
		serverURL  = flag.String("server", "http://localhost:8090", "entitlement server base URL")
		credFile   = flag.String("credentials", defaultCredentialPath(), "credential file path")
		pubKeyFile = flag.String("public-key", "keys/signing.pub.pem", "server public key (PEM)")
		appVersion = flag.String("app-version", "0.0.0", "application version to report")
		probeURL   = flag.String("probe-url", "", "connectivity probe URL (default: well-known endpoint)")
		verbose    = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	logOut := io.Discard
	if *verbose {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: slog.LevelDebug}))

	codec, err := token.LoadVerifyingCodec(*pubKeyFile)
	if err != nil {
		fmt.Printf("mode: %s\n", license.ModeRestricted)
		fmt.Printf("message: cannot load server public key: %v\n", err)
		return
	}

	resolver := license.NewResolver(license.ResolverOptions{
		Credentials: license.NewFileCredentialStore(*credFile),
		Codec:       codec,
		Prober:      license.NewHTTPProber(*probeURL),
		API:         license.NewClient(*serverURL),
		AppVersion:  *appVersion,
		Logger:      logger,
	})

	outcome := resolver.ResolveOnce(context.Background())
	advisor := updater.NewAdvisor(*appVersion, logger)

	fmt.Printf("mode: %s\n", outcome.Mode)
	if outcome.Mode == license.ModeTrial {
		fmt.Printf("trial days remaining: %d\n", outcome.TrialDaysRemaining)
	}
	if outcome.KeyHint != "" {
		fmt.Printf("key: %s\n", outcome.KeyHint)
	}
	if outcome.Message != "" {
		fmt.Printf("message: %s\n", outcome.Message)
	}
	if line := updateLine(advisor.Decide(outcome.Mode, outcome)); line != "" {
		fmt.Println(line)
	}
}

// updateLine renders the advisor's decision for the report, or "" when no
// update is advertised.
func updateLine(d updater.Decision) string {
	switch {
	case d.Mandatory:
		return "update: required"
	case d.LicenseBlocked:
		return "update: blocked by license mode"
	case d.Check:
		return "update: available"
	}
	return ""
}

func defaultCredentialPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "credential.json"
	}
	return dir + string(os.PathSeparator) + "keygate" + string(os.PathSeparator) + "credential.json"
}
