package shim

import (
	"strconv"
	"strings"

	"github.com/dop251/goja"

	"tsxkit/pkg/loader"
)

// utilModule is the small slice of util scripts actually reach for:
// format with %s/%d/%i/%j directives and inspect.
func utilModule() loader.NativeModule {
	return func(rt *goja.Runtime, module *goja.Object) {
		exports := module.Get("exports").(*goja.Object)
		exports.Set("format", func(call goja.FunctionCall) goja.Value {
			return rt.ToValue(formatArgs(rt, call.Arguments))
		})
		exports.Set("inspect", func(call goja.FunctionCall) goja.Value {
			return rt.ToValue(formatValue(rt, call.Argument(0)))
		})
	}
}

// formatArgs renders a console/util argument list. A leading string is
// scanned for % directives; arguments left over after substitution are
// appended space-separated. A directive with no argument left passes
// through literally.
func formatArgs(rt *goja.Runtime, args []goja.Value) string {
	if len(args) == 0 {
		return ""
	}
	format, ok := args[0].Export().(string)
	if !ok {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = formatValue(rt, a)
		}
		return strings.Join(parts, " ")
	}

	rest := args[1:]
	take := func() (goja.Value, bool) {
		if len(rest) == 0 {
			return nil, false
		}
		v := rest[0]
		rest = rest[1:]
		return v, true
	}

	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i+1 >= len(format) {
			b.WriteByte(c)
			continue
		}
		i++
		switch verb := format[i]; verb {
		case '%':
			b.WriteByte('%')
		case 's':
			if v, ok := take(); ok {
				b.WriteString(v.String())
			} else {
				b.WriteString("%s")
			}
		case 'd', 'i':
			if v, ok := take(); ok {
				b.WriteString(strconv.FormatInt(v.ToInteger(), 10))
			} else {
				b.WriteByte('%')
				b.WriteByte(verb)
			}
		case 'j':
			if v, ok := take(); ok {
				b.WriteString(formatValue(rt, v))
			} else {
				b.WriteString("%j")
			}
		default:
			b.WriteByte('%')
			b.WriteByte(verb)
		}
	}
	for _, a := range rest {
		b.WriteByte(' ')
		b.WriteString(formatValue(rt, a))
	}
	return b.String()
}
