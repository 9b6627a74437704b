package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Seednode/audiencebox/identity"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind           string
	dbPath         string
	jwtSecret      string
	port           int
	prefix         string
	profile        bool
	publicURL      string
	sessionTimeout time.Duration
	tlsCert        string
	tlsKey         string
	tokenTTL       time.Duration
	verbose        bool
	version        bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.jwtSecret == "" {
		return errors.New("--jwt-secret is required to authenticate directors")
	}
	if c.tokenTTL <= 0 {
		return fmt.Errorf("invalid token ttl (must be positive): %s", c.tokenTTL)
	}
	if c.publicURL != "" {
		u, err := url.Parse(c.publicURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid public url (must be absolute): %q", c.publicURL)
		}
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// bindFlags lets every flag of fs be set from AUDIENCEBOX_<FLAG> as well.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func newTokenCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <director-id>",
		Short: "Mint a director token signed with --jwt-secret.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			issuer, err := identity.NewIssuer(cfg.jwtSecret, cfg.tokenTTL)
			if err != nil {
				return err
			}

			tok, err := issuer.Sign(args[0])
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)

			return err
		},
	}

	return cmd
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("AUDIENCEBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "audiencebox",
		Short:         "Live audience polling: directors drive a shared screen, participants answer from their phones.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg)
		},
	}

	pfs := cmd.PersistentFlags()
	fs := cmd.Flags()

	for _, set := range []*pflag.FlagSet{pfs, fs} {
		set.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
			return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
		})
	}

	pfs.StringVar(&cfg.jwtSecret, "jwt-secret", "", "secret used to sign and verify director tokens (env: AUDIENCEBOX_JWT_SECRET)")
	pfs.DurationVar(&cfg.tokenTTL, "token-ttl", 12*time.Hour, "lifetime of minted director tokens (env: AUDIENCEBOX_TOKEN_TTL)")

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: AUDIENCEBOX_BIND)")
	fs.StringVar(&cfg.dbPath, "db", "", "path to sqlite database, in-memory store if empty (env: AUDIENCEBOX_DB)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: AUDIENCEBOX_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: AUDIENCEBOX_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: AUDIENCEBOX_PROFILE)")
	fs.StringVar(&cfg.publicURL, "public-url", "", "origin encoded in participant join codes, derived from the request if empty (env: AUDIENCEBOX_PUBLIC_URL)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before live hubs without clients are closed (env: AUDIENCEBOX_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: AUDIENCEBOX_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: AUDIENCEBOX_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: AUDIENCEBOX_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: AUDIENCEBOX_VERSION)")

	bindFlags(v, pfs)
	bindFlags(v, fs)

	cmd.AddCommand(newTokenCmd(cfg))

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("audiencebox v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
