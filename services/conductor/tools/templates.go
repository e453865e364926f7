// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultTemplate is used when scaffold_project omits the template
// attribute.
const DefaultTemplate = "static-site"

// Template is a named project skeleton: relative file paths mapped
// to initial content, plus any empty directories to create.
type Template struct {
	Description string
	Files       map[string]string
	Dirs        []string
}

// templates holds the built-in project skeletons.
var templates = map[string]Template{
	"static-site": {
		Description: "Plain HTML/CSS/JS site",
		Files: map[string]string{
			"index.html": `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>{{name}}</title>
  <link rel="stylesheet" href="css/style.css">
</head>
<body>
  <h1>{{name}}</h1>
  <script src="js/main.js"></script>
</body>
</html>
`,
			"css/style.css": "body { font-family: sans-serif; margin: 2rem; }\n",
			"js/main.js":    "console.log('{{name}} loaded');\n",
		},
		Dirs: []string{"assets"},
	},
	"node-api": {
		Description: "Node.js HTTP API",
		Files: map[string]string{
			"package.json": `{
  "name": "{{name}}",
  "version": "0.1.0",
  "main": "src/index.js",
  "scripts": {
    "start": "node src/index.js",
    "test": "jest"
  }
}
`,
			"src/index.js": `const http = require('http');

const server = http.createServer((req, res) => {
  res.writeHead(200, { 'Content-Type': 'application/json' });
  res.end(JSON.stringify({ service: '{{name}}', status: 'ok' }));
});

server.listen(process.env.PORT || 3000);
`,
			".gitignore": "node_modules/\n",
		},
		Dirs: []string{"test"},
	},
	"python-cli": {
		Description: "Python command-line tool",
		Files: map[string]string{
			"pyproject.toml": `[project]
name = "{{name}}"
version = "0.1.0"
requires-python = ">=3.10"

[project.scripts]
{{name}} = "{{name}}.main:main"
`,
			"src/{{name}}/__init__.py": "",
			"src/{{name}}/main.py": `import argparse


def main() -> None:
    parser = argparse.ArgumentParser(prog="{{name}}")
    parser.parse_args()
    print("{{name}} ready")


if __name__ == "__main__":
    main()
`,
			"README.md": "# {{name}}\n",
		},
		Dirs: []string{"tests"},
	},
	"go-cli": {
		Description: "Go command-line tool",
		Files: map[string]string{
			"go.mod": "module {{name}}\n\ngo 1.25\n",
			"main.go": `package main

import "fmt"

func main() {
	fmt.Println("{{name}} ready")
}
`,
			"README.md": "# {{name}}\n",
		},
	},
}

// TemplateNames returns the available template names, sorted.
func TemplateNames() []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Scaffold materializes the named template under baseDir/name and
// returns the relative paths of the files it created.
func Scaffold(baseDir, name, template string) ([]string, error) {
	tmpl, ok := templates[template]
	if !ok {
		return nil, fmt.Errorf("unknown template %q (available: %s)", template, strings.Join(TemplateNames(), ", "))
	}
	if strings.ContainsAny(name, "/\\") || name == "" || name == "." || name == ".." {
		return nil, fmt.Errorf("invalid project name %q", name)
	}

	root := filepath.Join(baseDir, name)
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("create project dir: %w", err)
	}

	// Stable creation order keeps scaffold logs reproducible.
	paths := make([]string, 0, len(tmpl.Files))
	for path := range tmpl.Files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var created []string
	for _, path := range paths {
		rel := strings.ReplaceAll(path, "{{name}}", name)
		content := strings.ReplaceAll(tmpl.Files[path], "{{name}}", name)

		target := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
			return created, fmt.Errorf("scaffold %s: %w", rel, err)
		}
		if err := os.WriteFile(target, []byte(content), 0640); err != nil {
			return created, fmt.Errorf("scaffold %s: %w", rel, err)
		}
		created = append(created, filepath.Join(name, rel))
	}
	for _, dir := range tmpl.Dirs {
		if err := os.MkdirAll(filepath.Join(root, dir), 0750); err != nil {
			return created, fmt.Errorf("scaffold dir %s: %w", dir, err)
		}
	}
	return created, nil
}
