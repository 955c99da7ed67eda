package command

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/alanyoungcy/wagerwars/internal/domain"
)

// ErrUsage is returned for an unknown command or malformed flags.
var ErrUsage = errors.New("command: usage")

// Parse turns command-line arguments such as
//
//	buy-shares --market 1 --outcome 0 --amount 12.5
//
// into a Command whose Args hold raw fixed-point integers.
func Parse(argv []string) (domain.Command, error) {
	if len(argv) == 0 {
		return domain.Command{}, fmt.Errorf("%w: no command given", ErrUsage)
	}
	def, ok := Lookup(argv[0])
	if !ok {
		return domain.Command{}, fmt.Errorf("%w: unknown command %q", ErrUsage, argv[0])
	}

	fs := flag.NewFlagSet(def.Name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	raw := fs.Bool("raw", false, "amounts are fixed-point units")
	values := make([]*string, len(def.params))
	for i, p := range def.params {
		values[i] = fs.String(p.flag, "", p.usage)
	}
	if err := fs.Parse(argv[1:]); err != nil {
		return domain.Command{}, fmt.Errorf("%w: %s: %v", ErrUsage, def.Name, err)
	}
	if fs.NArg() > 0 {
		return domain.Command{}, fmt.Errorf("%w: %s: unexpected argument %q", ErrUsage, def.Name, fs.Arg(0))
	}

	args := make(map[string]any, len(def.params))
	for i, p := range def.params {
		v := strings.TrimSpace(*values[i])
		if v == "" {
			if p.required {
				return domain.Command{}, fmt.Errorf("%w: %s: missing --%s", ErrUsage, def.Name, p.flag)
			}
			continue
		}
		converted, err := convert(p, v, *raw)
		if err != nil {
			return domain.Command{}, fmt.Errorf("%w: %s: --%s: %v", ErrUsage, def.Name, p.flag, err)
		}
		args[p.key] = converted
	}

	data, err := json.Marshal(args)
	if err != nil {
		return domain.Command{}, fmt.Errorf("command: encode %s args: %w", def.Name, err)
	}
	return domain.Command{Name: def.Name, Args: data}, nil
}

func convert(p param, v string, raw bool) (any, error) {
	switch p.kind {
	case kindUint:
		return strconv.ParseUint(v, 10, 64)
	case kindInt:
		return strconv.ParseInt(v, 10, 64)
	case kindAmount:
		return ParseAmount(v, raw)
	case kindList:
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	default:
		return v, nil
	}
}

// Usage writes the command list.
func Usage(w io.Writer) {
	fmt.Fprintln(w, "commands:")
	for _, s := range catalog {
		fmt.Fprintf(w, "  %-28s %s\n", s.Name, s.Summary)
		for _, p := range s.params {
			req := ""
			if p.required {
				req = " (required)"
			}
			fmt.Fprintf(w, "      --%-14s %s%s\n", p.flag, p.usage, req)
		}
	}
	fmt.Fprintln(w, "amount flags accept decimals; pass --raw to give fixed-point units")
}
