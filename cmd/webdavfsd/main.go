// Command webdavfsd is the user-space daemon behind a webdavfs mount. It
// owns the network context and serves the kernel shim's requests; the
// mount(2) front-end itself lives elsewhere.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/apple-oss-distributions/webdavfs/auth"
	"github.com/apple-oss-distributions/webdavfs/daemon"
	"github.com/apple-oss-distributions/webdavfs/fs"
	"github.com/apple-oss-distributions/webdavfs/network"
	"github.com/apple-oss-distributions/webdavfs/node"
	"github.com/apple-oss-distributions/webdavfs/webdav"
)

var (
	opt     = fs.DefaultOptions()
	user    string
	verbose bool
)

func addFlags(flags *pflag.FlagSet) {
	flags.IntVar(&opt.RequestThreads, "threads", opt.RequestThreads, "number of request worker threads")
	flags.IntVar(&opt.LockTimeoutSeconds, "lock-timeout", opt.LockTimeoutSeconds, "lock timeout in seconds")
	flags.BoolVar(&opt.Mirrored, "mirrored", false, "enable mirrored-disk mode")
	flags.BoolVar(&opt.SuppressUI, "suppress-ui", false, "never prompt; fail fast while disconnected")
	flags.StringVar(&opt.CertUIHelper, "cert-ui", "", "path of the certificate confirmation helper")
	flags.StringVar(&opt.ProxyStorePath, "proxy-store", "", "path of the system proxy settings file")
	flags.DurationVar(&opt.FreshnessWindow, "freshness", opt.FreshnessWindow, "validator freshness window")
	flags.StringVar(&user, "user", "", "user name")
	flags.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

var rootCmd = &cobra.Command{
	Use:   "webdavfsd <url>",
	Short: "Mount daemon for a remote WebDAV collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			fs.SetLogLevel(logrus.DebugLevel)
		}
		opt.BaseURL = args[0]

		authCache := auth.NewBasic(user, os.Getenv("WEBDAVFS_PASSWORD"))
		nw, err := network.New(opt, authCache)
		if err != nil {
			return err
		}
		defer func() { _ = nw.Close() }()

		var attrs *node.AttrCache
		if opt.Mirrored {
			attrs = node.NewAttrCache(opt.FreshnessWindow)
		}
		cache := &node.SimpleCache{Attrs: attrs}
		ops := webdav.New(nw, cache, attrs)
		d := daemon.New(nw, ops)

		uid := uint32(os.Getuid())
		started := time.Now()
		info, err := ops.Mount(uid)
		if err != nil {
			return err
		}
		fs.Infof(nil, "mounted %s in %v (read-only=%v locking=%v)",
			opt.BaseURL, time.Since(started), info.ReadOnly, info.LockingEnabled)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return d.Run(ctx)
	},
}

func main() {
	addFlags(rootCmd.Flags())
	if err := rootCmd.Execute(); err != nil {
		fs.Errorf(nil, "%v", err)
		os.Exit(1)
	}
}
