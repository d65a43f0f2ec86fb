package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nkconnor/ngrok"
	"github.com/nkconnor/ngrok/tunneler"
)

func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{Level: log.DebugLevel, ReportTimestamp: true})

	// set up a http server to respond to requests on port 8080
	http.HandleFunc("/hello-world", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "Thanks, @inconshreveable!")
	})
	go func() {
		if err := http.ListenAndServe(":8080", nil); err != nil {
			logger.Fatal("serve", "err", err)
		}
	}()

	// setup a tunnel to port 8080
	sess, err := ngrok.NewBuilder().
		HTTP().
		Port(8080).
		Logger(logger).
		Run()
	if err != nil {
		logger.Fatal("start ngrok", "err", err)
	}
	// don't forget to close the session!
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	endpoints, err := sess.Endpoints(ctx)
	if err != nil {
		logger.Error("find tunnel", "err", err)
		return
	}
	for i, endpoint := range endpoints {
		fmt.Println("Endpoint", i+1, "-", endpoint.URL)
	}

	// newer ngrok versions only open the https tunnel; fall back to the first one.
	target, ok := tunneler.FindSecure(endpoints)
	if !ok {
		target = endpoints[0]
	}

	// Make a zero-configuration https request to your own machine!
	// Notice the lack of ":8080"!
	reqURL := target.URL.JoinPath("hello-world").String()
	fmt.Println("Making request from outside world to", reqURL)
	resp, err := http.Get(reqURL)
	if err != nil {
		logger.Error("request", "err", err)
		return
	}
	defer resp.Body.Close()
	bodyBytes, _ := io.ReadAll(resp.Body)
	fmt.Println(string(bodyBytes))
}
