package builtin

import "github.com/simage-ai/convoengine/internal/tools"

// Specs builds the full built-in tool catalogue the registry is
// constructed from at process startup, mirroring _register_all_tools() in
// the original's registry.py.
func Specs(namespaces []string, gen DataSnippetGenerator, loader TableLoader) []*tools.Spec {
	return []*tools.Spec{
		NewListResources(),
		NewGetResourceInfo(),
		NewReadResource(),
		NewSearchDocuments(namespaces),
		NewSearchWeb(),
		NewAnalyzeData(gen, loader),
		NewViewImage(),
		NewSaveFinding(),
	}
}
