package cmd

import (
	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"
)

// WrapFlags wraps a slice of flags so that, when ConfigFileFlag is set, each
// flag's value can also be sourced from that YAML file, with explicit CLI
// flags still taking priority over the file.
func WrapFlags(flags []cli.Flag) []cli.Flag {
	wrapped := make([]cli.Flag, len(flags))
	for i, flag := range flags {
		switch f := flag.(type) {
		case *cli.StringFlag:
			wrapped[i] = altsrc.NewStringFlag(f)
		case *cli.StringSliceFlag:
			wrapped[i] = altsrc.NewStringSliceFlag(f)
		case *cli.BoolFlag:
			wrapped[i] = altsrc.NewBoolFlag(f)
		case *cli.IntFlag:
			wrapped[i] = altsrc.NewIntFlag(f)
		case *cli.Uint64Flag:
			wrapped[i] = altsrc.NewUint64Flag(f)
		case *cli.Float64Flag:
			wrapped[i] = altsrc.NewFloat64Flag(f)
		case *cli.DurationFlag:
			wrapped[i] = altsrc.NewDurationFlag(f)
		default:
			wrapped[i] = flag
		}
	}
	return wrapped
}

// LoadFlagsFromConfig returns a cli.BeforeFunc that, if ConfigFileFlag is
// set on the command line, populates wrapped flags from that YAML file
// before the command runs.
func LoadFlagsFromConfig(flags []cli.Flag) cli.BeforeFunc {
	return func(ctx *cli.Context) error {
		if ctx.String(ConfigFileFlag.Name) == "" {
			return nil
		}
		inputSource, err := altsrc.NewYamlSourceFromFlagFunc(ConfigFileFlag.Name)(ctx)
		if err != nil {
			return err
		}
		return altsrc.ApplyInputSourceValues(ctx, inputSource, flags)
	}
}
