// Command ffprobe sends the Flashforge discovery probe once and prints the reply.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/arloliu/go-flashforge/discovery"
	"github.com/arloliu/go-flashforge/logger"
)

func main() {
	target := flag.String("target", discovery.DefaultTarget, "multicast group and port")
	timeout := flag.Duration("timeout", discovery.DefaultTimeout, "reply timeout")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	level, _ := logger.ParseLevel(*logLevel)
	log := logger.NewSlog(level, false)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	reply, err := discovery.Probe(ctx, discovery.WithTarget(*target), discovery.WithLogger(log))
	if err != nil {
		if errors.Is(err, discovery.ErrNoReply) || errors.Is(err, context.DeadlineExceeded) {
			fmt.Fprintln(os.Stderr, "no printer replied within", timeout.Round(time.Millisecond))
		} else {
			fmt.Fprintln(os.Stderr, "ffprobe:", err)
		}
		os.Exit(1)
	}

	fmt.Printf("%s\t%s\n", reply.Host(), hex.EncodeToString(reply.Data))
}
