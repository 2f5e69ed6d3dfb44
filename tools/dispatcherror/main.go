package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/phat-tools/cluster-deployer/chain"
	"github.com/phat-tools/cluster-deployer/types"
)

var (
	svr     = flag.String("sidecar", "http://127.0.0.1:8080", "substrate-api-sidecar url")
	block   = flag.String("block", "", "Hash of the block including the extrinsic")
	xtHash  = flag.String("xt", "", "Extrinsic hash")
	verbose = flag.Bool("v", false, "also print every event of the extrinsic. default false.")
)

var errNoFailure = errors.New("extrinsic did not fail")

// dispatchError returns the DispatchError of a failed extrinsic.
func dispatchError(events []types.Event) (json.RawMessage, error) {
	ev, ok := types.FindEvent(events, types.SectionSystem, types.MethodExtrinsicFailed)
	if !ok {
		return nil, errNoFailure
	}
	if len(ev.Data) == 0 {
		return json.RawMessage("null"), nil
	}
	return ev.Data[0], nil
}

func main() {
	flag.Parse()
	if *block == "" || *xtHash == "" {
		log.Fatal().Msg("both -block and -xt are required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sidecar := chain.NewSidecar(*svr)
	events, err := sidecar.ExtrinsicEvents(ctx, common.HexToHash(*block), common.HexToHash(*xtHash))
	if err != nil {
		log.Fatal().Err(err).Send()
	}
	if *verbose {
		for _, ev := range events {
			data, _ := json.Marshal(ev.Data)
			log.Info().Str("event", ev.Section+"."+ev.Method).RawJSON("data", data).Send()
		}
	}
	reason, err := dispatchError(events)
	if err != nil {
		log.Info().Msg("No dispatch error")
		return
	}
	log.Info().RawJSON("reason", reason).Send()
}
