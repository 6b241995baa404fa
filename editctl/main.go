package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/docopt/docopt-go"

	"github.com/scribehq/scribe/collab"
)

const EditCtlVersion = "0.0.1"

const DefaultApiUrl = "http://localhost:8080"
const DefaultConnectUrl = "ws://localhost:8080/documents/ws/connect"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := fmt.Sprintf(
		`Scribe document control.

The default urls are:
    api_url: %s
    connect_url: %s

Credentials and urls are stored in the config file after login.

Usage:
    editctl login [--config=<config>] [--api_url=<api_url>] [--connect_url=<connect_url>]
        --email=<email>
        [--password=<password>]
    editctl ls [--config=<config>]
    editctl new [--config=<config>] --title=<title> [<file>]
    editctl cat [--config=<config>] <document_id>
    editctl watch [--config=<config>] <document_id>
    editctl edit [--config=<config>] <document_id> <file>
    editctl rename [--config=<config>] <document_id> <title>
    editctl rm [--config=<config>] <document_id>
    editctl share [--config=<config>] <document_id>
        --email=<email>
        [--permission=<permission>]
    editctl collaborators [--config=<config>] <document_id>

Options:
    -h --help                    Show this screen.
    --version                    Show version.
    --config=<config>            Config file path.
    --api_url=<api_url>
    --connect_url=<connect_url>
    --email=<email>
    --password=<password>
    --permission=<permission>    One of write, read [default: write].`,
		DefaultApiUrl,
		DefaultConnectUrl,
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], EditCtlVersion)
	if err != nil {
		panic(err)
	}

	if login_, _ := opts.Bool("login"); login_ {
		login(opts)
	} else if ls_, _ := opts.Bool("ls"); ls_ {
		ls(opts)
	} else if new_, _ := opts.Bool("new"); new_ {
		newDocument(opts)
	} else if cat_, _ := opts.Bool("cat"); cat_ {
		cat(opts)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	} else if edit_, _ := opts.Bool("edit"); edit_ {
		edit(opts)
	} else if rename_, _ := opts.Bool("rename"); rename_ {
		rename(opts)
	} else if rm_, _ := opts.Bool("rm"); rm_ {
		rm(opts)
	} else if share_, _ := opts.Bool("share"); share_ {
		share(opts)
	} else if collaborators_, _ := opts.Bool("collaborators"); collaborators_ {
		collaborators(opts)
	}
}

func configPath(opts docopt.Opts) string {
	if configAny := opts["--config"]; configAny != nil {
		return configAny.(string)
	}
	return DefaultConfigPath()
}

func requireConfig(opts docopt.Opts) *Config {
	config, err := ReadConfig(configPath(opts))
	if err != nil {
		Err.Fatalf("Not logged in (%s). Run `editctl login` first.", err)
	}
	return config
}

func newApi(ctx context.Context, config *Config) *collab.DocumentApi {
	api := collab.NewDocumentApiWithContext(ctx, config.ApiUrl)
	api.SetByJwt(config.ByJwt)
	return api
}

func login(opts docopt.Opts) {
	email := opts["--email"].(string)

	var password string
	if passwordAny := opts["--password"]; passwordAny != nil {
		password = passwordAny.(string)
	} else {
		fmt.Print("Enter password: ")
		passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			panic(err)
		}
		password = string(passwordBytes)
		fmt.Printf("\n")
	}

	apiUrl := DefaultApiUrl
	if apiUrlAny := opts["--api_url"]; apiUrlAny != nil {
		apiUrl = apiUrlAny.(string)
	}
	connectUrl := DefaultConnectUrl
	if connectUrlAny := opts["--connect_url"]; connectUrlAny != nil {
		connectUrl = connectUrlAny.(string)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := collab.NewDocumentApiWithContext(cancelCtx, apiUrl)
	defer api.Close()

	result, err := api.AuthLoginSync(&collab.AuthLoginArgs{
		Email:    email,
		Password: password,
	})
	if err != nil {
		Err.Fatalf("Login failed (%s).", err)
	}

	config := &Config{
		ApiUrl:     apiUrl,
		ConnectUrl: connectUrl,
		ByJwt:      result.Token,
		UserId:     result.UserId,
	}
	if err := WriteConfig(configPath(opts), config); err != nil {
		Err.Fatalf("Could not store credential (%s).", err)
	}

	Out.Printf("Logged in as %s (%s)", email, result.UserId)
}

func ls(opts docopt.Opts) {
	config := requireConfig(opts)

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := newApi(cancelCtx, config)
	defer api.Close()

	result, err := api.ListDocumentsSync()
	if err != nil {
		Err.Fatalf("Could not list documents (%s).", err)
	}

	for _, document := range result.Documents {
		Out.Printf("%s v%-4d %-6s %s", document.DocumentId, document.Version, document.Permission, document.Title)
	}
}

func newDocument(opts docopt.Opts) {
	config := requireConfig(opts)
	title := opts["--title"].(string)

	content := ""
	if fileAny := opts["<file>"]; fileAny != nil {
		contentBytes, err := os.ReadFile(fileAny.(string))
		if err != nil {
			Err.Fatalf("Could not read %s (%s).", fileAny, err)
		}
		content = string(contentBytes)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := newApi(cancelCtx, config)
	defer api.Close()

	result, err := api.CreateDocumentSync(&collab.CreateDocumentArgs{
		Title:   title,
		Content: content,
	})
	if err != nil {
		Err.Fatalf("Could not create document (%s).", err)
	}

	Out.Printf("%s", result.Document.DocumentId)
}

func cat(opts docopt.Opts) {
	config := requireConfig(opts)
	documentId := opts["<document_id>"].(string)

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := newApi(cancelCtx, config)
	defer api.Close()

	result, err := api.GetDocumentSync(documentId)
	if err != nil {
		Err.Fatalf("Could not load document (%s).", err)
	}

	fmt.Print(result.Document.Content)
}

// follow a document live: print remote edits, presence and cursors as
// they arrive, until interrupted
func watch(opts docopt.Opts) {
	config := requireConfig(opts)
	documentId := opts["<document_id>"].(string)

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := newApi(cancelCtx, config)
	defer api.Close()

	session, err := collab.NewSessionWithDefaults(cancelCtx, api, config.ConnectUrl, config.ByJwt, documentId)
	if err != nil {
		Err.Fatalf("Could not open session (%s).", err)
	}
	defer session.Close()

	if err := session.Load(); err != nil {
		Err.Fatalf("Could not load document (%s).", err)
	}

	snapshot := session.Snapshot()
	Out.Printf("%s (v%d)", snapshot.Title, snapshot.Version)
	Out.Printf("%s", snapshot.Content)

	session.AddContentListener(func(content string, caret int) {
		Out.Printf("--- v%d ---", session.Snapshot().Version)
		Out.Printf("%s", content)
	})
	session.AddNoticeListener(func(notice string) {
		Out.Printf("! %s", notice)
	})

	if err := session.Connect(); err != nil {
		Err.Fatalf("Could not connect (%s).", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	presence := session.PresenceMonitor()
	for {
		select {
		case <-sigs:
			return
		case <-cancelCtx.Done():
			return
		case <-presence.NotifyChannel():
			for _, cursor := range session.VisibleCursors() {
				Out.Printf("* %s at line %d", cursor.UserName, cursor.Line)
			}
		}
	}
}

// replace the document content with the file and persist, broadcasting
// the edit to other participants when the live channel is available
func edit(opts docopt.Opts) {
	config := requireConfig(opts)
	documentId := opts["<document_id>"].(string)
	file := opts["<file>"].(string)

	contentBytes, err := os.ReadFile(file)
	if err != nil {
		Err.Fatalf("Could not read %s (%s).", file, err)
	}
	content := string(contentBytes)

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := newApi(cancelCtx, config)
	defer api.Close()

	session, err := collab.NewSessionWithDefaults(cancelCtx, api, config.ConnectUrl, config.ByJwt, documentId)
	if err != nil {
		Err.Fatalf("Could not open session (%s).", err)
	}
	defer session.Close()

	if err := session.Load(); err != nil {
		Err.Fatalf("Could not load document (%s).", err)
	}

	session.AddNoticeListener(func(notice string) {
		Out.Printf("! %s", notice)
	})

	// best effort live broadcast. the save path below works without it.
	if err := session.Connect(); err == nil {
		connectDeadline := time.Now().Add(5 * time.Second)
		for session.ConnectionState() != collab.ConnectionStateOpen && time.Now().Before(connectDeadline) {
			time.Sleep(10 * time.Millisecond)
		}
	}

	session.LocalEdit(content, len(content))
	session.Save()

	saveDeadline := time.Now().Add(10 * time.Second)
	for session.Snapshot().Dirty {
		if !time.Now().Before(saveDeadline) {
			Err.Fatalf("Save did not complete.")
		}
		time.Sleep(20 * time.Millisecond)
	}

	snapshot := session.Snapshot()
	if snapshot.Content != content {
		Out.Printf("Document changed on the server; now at v%d.", snapshot.Version)
	} else {
		Out.Printf("Saved v%d.", snapshot.Version)
	}
}

func rename(opts docopt.Opts) {
	config := requireConfig(opts)
	documentId := opts["<document_id>"].(string)
	title := opts["<title>"].(string)

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := newApi(cancelCtx, config)
	defer api.Close()

	result, err := api.RenameDocumentSync(documentId, &collab.RenameDocumentArgs{
		Title: title,
	})
	if err != nil {
		Err.Fatalf("Could not rename document (%s).", err)
	}

	if result.Document != nil {
		title = result.Document.Title
	}
	Out.Printf("Renamed to %s.", title)
}

func rm(opts docopt.Opts) {
	config := requireConfig(opts)
	documentId := opts["<document_id>"].(string)

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := newApi(cancelCtx, config)
	defer api.Close()

	if _, err := api.DeleteDocumentSync(documentId); err != nil {
		Err.Fatalf("Could not delete document (%s).", err)
	}

	Out.Printf("Deleted %s.", documentId)
}

func share(opts docopt.Opts) {
	config := requireConfig(opts)
	documentId := opts["<document_id>"].(string)
	email := opts["--email"].(string)
	permission, _ := opts.String("--permission")

	switch permission {
	case collab.PermissionWrite, collab.PermissionRead:
	default:
		Err.Fatalf("Invalid permission %q.", permission)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := newApi(cancelCtx, config)
	defer api.Close()

	result, err := api.ShareDocumentSync(documentId, &collab.ShareDocumentArgs{
		Email:      email,
		Permission: permission,
	})
	if err != nil {
		Err.Fatalf("Could not share document (%s).", err)
	}

	if result.Collaborator != nil {
		email = result.Collaborator.Email
		permission = result.Collaborator.Permission
	}
	Out.Printf("Shared with %s (%s).", email, permission)
}

func collaborators(opts docopt.Opts) {
	config := requireConfig(opts)
	documentId := opts["<document_id>"].(string)

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := newApi(cancelCtx, config)
	defer api.Close()

	result, err := api.GetCollaboratorsSync(documentId)
	if err != nil {
		Err.Fatalf("Could not list collaborators (%s).", err)
	}

	for _, collaborator := range result.Collaborators {
		name := collaborator.UserName
		if name == "" {
			name = collaborator.Email
		}
		Out.Printf("%s %-6s %s", collaborator.CollaboratorId, collaborator.Permission, strings.TrimSpace(name))
	}
}
