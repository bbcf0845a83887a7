// Command davserver serves a WebDAV and CalDAV tree.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

var cli struct {
	Serve       ServeCmd       `cmd:"" help:"Run the server"`
	CheckConfig CheckConfigCmd `cmd:"" help:"Validate a configuration file and exit"`
}

func main() {
	appCtx := context.Background()

	ctx := kong.Parse(&cli,
		kong.Name("davserver"),
		kong.Description("WebDAV and CalDAV server"),
		kong.UsageOnError(),
		kong.BindTo(appCtx, (*context.Context)(nil)),
	)
	if err := ctx.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
