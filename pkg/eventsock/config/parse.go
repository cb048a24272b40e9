package config

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// FileExtension is the suffix of config files picked up from a directory.
const FileExtension = ".hcl"

// ParseConfigFiles parses each source into an HCL body. A source is a file
// path, a directory path, an fs.FS, or a []byte holding HCL text. Directories
// and file systems contribute every *.hcl file below them in lexical order.
func ParseConfigFiles(sources ...any) ([]hcl.Body, hcl.Diagnostics) {
	sp := &sourceParser{parser: hclparse.NewParser()}
	for _, source := range sources {
		sp.parse(source)
	}
	return sp.bodies, sp.diags
}

type sourceParser struct {
	parser *hclparse.Parser
	bodies []hcl.Body
	diags  hcl.Diagnostics
}

func (sp *sourceParser) parse(source any) {
	switch v := source.(type) {
	case string:
		sp.parsePath(v)
	case []byte:
		sp.add(sp.parser.ParseHCL(v, fmt.Sprintf("<bytes@%p>", v)))
	case fs.FS:
		sp.parseTree(v, "")
	default:
		sp.fail("Invalid source type",
			fmt.Sprintf("A config source must be a path, an fs.FS or []byte, not %T", v))
	}
}

func (sp *sourceParser) parsePath(name string) {
	info, err := os.Stat(name)
	if err != nil {
		sp.fail("Failed to stat file", fmt.Sprintf("Cannot open config source %s: %s", name, err))
		return
	}

	if info.IsDir() {
		sp.parseTree(os.DirFS(name), name)
		return
	}
	sp.add(sp.parser.ParseHCLFile(name))
}

// parseTree parses the config files of fsys. root prefixes file names in diagnostics.
func (sp *sourceParser) parseTree(fsys fs.FS, root string) {
	err := fs.WalkDir(fsys, ".", func(name string, d fs.DirEntry, err error) error {
		display := filepath.Join(root, filepath.FromSlash(name))
		if err != nil {
			sp.fail("Failed to access file or directory", fmt.Sprintf("Cannot read %s: %s", display, err))
			return nil
		}
		if d.IsDir() || path.Ext(name) != FileExtension {
			return nil
		}

		src, err := fs.ReadFile(fsys, name)
		if err != nil {
			sp.fail("Failed to read file", fmt.Sprintf("Cannot read %s: %s", display, err))
			return nil
		}
		sp.add(sp.parser.ParseHCL(src, display))
		return nil
	})
	if err != nil {
		sp.fail("Failed to walk directory", fmt.Sprintf("Cannot list %s: %s", root, err))
	}
}

func (sp *sourceParser) add(file *hcl.File, diags hcl.Diagnostics) {
	sp.diags = sp.diags.Extend(diags)
	if file != nil {
		sp.bodies = append(sp.bodies, file.Body)
	}
}

func (sp *sourceParser) fail(summary, detail string) {
	sp.diags = sp.diags.Append(&hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  summary,
		Detail:   detail,
	})
}
