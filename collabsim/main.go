package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/docopt/docopt-go"
)

const CollabSimVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Collab document store and live channel simulator.

An in-memory stand-in for the production backend. Any email logs in;
accounts, documents and collaborators live until the process exits.

Usage:
    collabsim run [--port=<port>]

Options:
    -h --help          Show this screen.
    --version          Show version.
    -p --port=<port>   Listen port [default: 8080].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], CollabSimVersion)
	if err != nil {
		panic(err)
	}

	if run_, _ := opts.Bool("run"); run_ {
		run(opts)
	}
}

func run(opts docopt.Opts) {
	port, _ := opts.Int("--port")

	simServer := NewSimServer()

	Out.Printf("collabsim %s on *:%d", CollabSimVersion, port)
	Out.Printf("api_url:     http://localhost:%d", port)
	Out.Printf("connect_url: ws://localhost:%d/documents/ws/connect", port)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: simServer.Router(),
	}
	if err := server.ListenAndServe(); err != nil {
		Err.Fatalf("%s", err)
	}
}
