package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"

	"golang.org/x/term"

	"github.com/facetspace/spacesync/spacesync"
)

const AgentCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Agent control for a facet space.

The default url is:
    url: ws://localhost:8080/spacesync

Usage:
    agentctl register [--url=<url>]
        --agent_id=<agent_id>
        [--agent_name=<agent_name>]
        [--agent_type=<agent_type>]
        [--capability=<capability>...]
    agentctl emit [--url=<url>]
        --topic=<topic>
        [--priority=<priority>]
        [--sync]
        [<payload>]
    agentctl watch [--url=<url>]
        [--facet_type=<facet_type>...]
        [--stream_id=<stream_id>...]
        [--include_existing]
        [--from_sequence=<from_sequence>]
        [--delta_count=<delta_count>]
    agentctl mint-token
        --agent_id=<agent_id>
        [--agent_name=<agent_name>]
        [--agent_type=<agent_type>]
        [--secret=<secret>]
    agentctl inspect-token <jwt>

Options:
    -h --help                        Show this screen.
    --version                        Show version.
    --url=<url>                      Coordinator websocket url.
    --agent_id=<agent_id>
    --agent_name=<agent_name>
    --agent_type=<agent_type>
    --capability=<capability>        May be repeated.
    --topic=<topic>                  Event topic, e.g. note.create.
    --priority=<priority>            One of normal, low, high, immediate.
    --sync                           Block until the frame is committed.
    --facet_type=<facet_type>        May be repeated.
    --stream_id=<stream_id>          May be repeated.
    --include_existing               Replay current state before live deltas.
    --from_sequence=<from_sequence>  Resume point.
    --delta_count=<delta_count>      Print this many deltas then exit.
    --secret=<secret>                Token signing secret. Prompted when not given.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], AgentCtlVersion)
	if err != nil {
		panic(err)
	}

	if register_, _ := opts.Bool("register"); register_ {
		register(opts)
	} else if emit_, _ := opts.Bool("emit"); emit_ {
		emit(opts)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	} else if mintToken_, _ := opts.Bool("mint-token"); mintToken_ {
		mintToken(opts)
	} else if inspectToken_, _ := opts.Bool("inspect-token"); inspectToken_ {
		inspectToken(opts)
	}
}

func connectUrl(opts docopt.Opts) string {
	if url, err := opts.String("--url"); err == nil && url != "" {
		return url
	}
	return "ws://localhost:8080/spacesync"
}

func connectSession(ctx context.Context, opts docopt.Opts) *spacesync.Session {
	dial := spacesync.NewWsDialer(connectUrl(opts), spacesync.DefaultWsTransportSettings())
	session := spacesync.NewSessionWithDefaults(ctx, dial)
	if err := session.Connect(ctx); err != nil {
		Err.Fatalf("Could not connect (%s).", err)
	}
	return session
}

func register(opts docopt.Opts) {
	agentId, _ := opts.String("--agent_id")
	agentName, _ := opts.String("--agent_name")
	agentType, _ := opts.String("--agent_type")
	capabilities := stringList(opts, "--capability")

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := connectSession(cancelCtx, opts)
	defer session.Disconnect()

	result, err := session.RegisterAgent(cancelCtx, &spacesync.RegisterAgentArgs{
		AgentId:      agentId,
		AgentName:    agentName,
		AgentType:    agentType,
		Capabilities: capabilities,
	})
	if err != nil {
		Err.Fatalf("Register failed (%s).", err)
	}
	if !result.Success {
		Err.Fatalf("Register rejected (%s).", result.Error)
	}
	Out.Printf("%s", result.SessionToken)
}

func emit(opts docopt.Opts) {
	topic, _ := opts.String("--topic")
	payloadStr, _ := opts.String("<payload>")
	sync, _ := opts.Bool("--sync")

	priority := spacesync.PriorityNormal
	if priorityStr, err := opts.String("--priority"); err == nil && priorityStr != "" {
		priority = parsePriority(priorityStr)
	}

	var payload any
	if payloadStr != "" {
		if err := json.Unmarshal([]byte(payloadStr), &payload); err != nil {
			Err.Fatalf("Invalid payload JSON (%s).", err)
		}
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := connectSession(cancelCtx, opts)
	defer session.Disconnect()

	timeoutCtx, timeoutCancel := context.WithTimeout(cancelCtx, 30*time.Second)
	defer timeoutCancel()

	result, err := session.EmitEvent(timeoutCtx, topic, payload, &spacesync.EmitOptions{
		Priority:     priority,
		Sync:         sync,
		WaitForFrame: true,
	})
	if err != nil {
		Err.Fatalf("Emit failed (%s).", err)
	}
	if !result.Success {
		Err.Fatalf("Emit rejected (%s).", result.Error)
	}
	Out.Printf("sequence=%d frame=%s deltas=%d", result.Sequence, result.FrameUuid, len(result.Deltas))
}

func watch(opts docopt.Opts) {
	options := &spacesync.SubscribeOptions{
		FacetTypes: stringList(opts, "--facet_type"),
		StreamIds:  stringList(opts, "--stream_id"),
	}
	options.IncludeExisting, _ = opts.Bool("--include_existing")
	if fromSequenceStr, err := opts.String("--from_sequence"); err == nil && fromSequenceStr != "" {
		fromSequence, err := strconv.ParseUint(fromSequenceStr, 10, 64)
		if err != nil {
			Err.Fatalf("Invalid from_sequence (%s).", err)
		}
		options.FromSequence = fromSequence
	}

	deltaCount := -1
	if deltaCount_, err := opts.Int("--delta_count"); err == nil {
		deltaCount = deltaCount_
	}

	event := spacesync.NewEventWithContext(context.Background())
	event.SetOnSignals(syscall.SIGINT, syscall.SIGTERM)

	session := connectSession(event.Ctx(), opts)
	defer session.Disconnect()

	deltas := make(chan *spacesync.FacetDelta)
	unsubscribe, err := session.Subscribe(event.Ctx(), options, func(delta *spacesync.FacetDelta) {
		select {
		case deltas <- delta:
		case <-event.Ctx().Done():
		}
	})
	if err != nil {
		Err.Fatalf("Subscribe failed (%s).", err)
	}
	defer unsubscribe()

	session.AddNotifyCallback(func(notification *spacesync.SessionNotification) {
		switch notification.Kind {
		case spacesync.NotifyError:
			Err.Printf("Session error (%s).", notification.Err)
		case spacesync.NotifyReconnectFailed:
			Err.Printf("Reconnect failed after %d attempts.", notification.ReconnectAttempts)
			event.Set()
		case spacesync.NotifyReconnected:
			// the stream does not survive a reconnect
			Err.Printf("Reconnected after %d attempts. Watch ended.", notification.ReconnectAttempts)
			event.Set()
		}
	})

	printed := 0
	for {
		select {
		case <-event.Ctx().Done():
			return
		case delta := <-deltas:
			deltaJson, err := json.Marshal(map[string]any{
				"kind":      delta.Kind.String(),
				"sequence":  delta.Sequence,
				"frameUuid": delta.FrameUuid,
				"facet":     delta.Facet,
			})
			if err != nil {
				Err.Printf("Could not format delta (%s).", err)
				continue
			}
			Out.Printf("%s", deltaJson)
			printed += 1
			if 0 <= deltaCount && deltaCount <= printed {
				return
			}
		}
	}
}

func mintToken(opts docopt.Opts) {
	agentId, _ := opts.String("--agent_id")
	agentName, _ := opts.String("--agent_name")
	agentType, _ := opts.String("--agent_type")

	var secret string
	if secretAny := opts["--secret"]; secretAny != nil {
		secret = secretAny.(string)
	} else {
		fmt.Print("Enter signing secret: ")
		secretBytes, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			panic(err)
		}
		secret = string(secretBytes)
		fmt.Printf("\n")
	}

	jwt, err := spacesync.MintSessionToken([]byte(secret), &spacesync.SessionToken{
		AgentId:   agentId,
		AgentName: agentName,
		AgentType: agentType,
	})
	if err != nil {
		Err.Fatalf("Could not mint token (%s).", err)
	}
	Out.Printf("%s", jwt)
}

func inspectToken(opts docopt.Opts) {
	jwt, _ := opts.String("<jwt>")

	token, err := spacesync.ParseSessionTokenUnverified(jwt)
	if err != nil {
		Err.Fatalf("Could not parse token (%s).", err)
	}
	Out.Printf("agent_id=%s agent_name=%s agent_type=%s", token.AgentId, token.AgentName, token.AgentType)
}

func stringList(opts docopt.Opts, key string) []string {
	var values []string
	if list, ok := opts[key].([]string); ok {
		values = list
	}
	return values
}

func parsePriority(priorityStr string) spacesync.Priority {
	switch priorityStr {
	case "low":
		return spacesync.PriorityLow
	case "high":
		return spacesync.PriorityHigh
	case "immediate":
		return spacesync.PriorityImmediate
	case "normal":
		return spacesync.PriorityNormal
	default:
		Err.Fatalf("Unknown priority %q.", priorityStr)
		return spacesync.PriorityNormal
	}
}
