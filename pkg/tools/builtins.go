package tools

import (
	"github.com/yashab-cyber/lewis-core/pkg/extension"
)

// Builtins projects the catalog into registry capabilities. Built-in
// commands are seeded before any extension loads, so an extension
// declaring one of these names is rejected.
func Builtins() []*extension.Resolved {
	out := make([]*extension.Resolved, 0, len(Catalog))
	for _, t := range Catalog {
		out = append(out, &extension.Resolved{
			Capability: extension.Capability{
				Kind:         extension.KindCommand,
				Name:         t.Command,
				Category:     t.Category,
				TargetScoped: t.TargetScoped,
				Parser:       t.Parser,
			},
			Process: &extension.ProcessSpec{
				Binary: t.Binary,
				Args:   append([]string(nil), t.Args...),
			},
		})
	}
	return out
}
