// Package codeowners generates and checks the repository CODEOWNERS file
// from integration manifests.
//
// Every integration under homeassistant/components/<domain>/ carries a
// manifest (manifest.json or manifest.yaml) listing its code owners as
// GitHub handles. The generated file is a fixed header, one line per
// integration that has owners (plus a tests/ line when the integration has
// a test package) and two fixed trailer blocks.
//
// Usage:
//
//	integrations, err := codeowners.LoadIntegrations(root)
//	content, problems := codeowners.Generate(integrations, root)
//	problems = append(problems, codeowners.Validate(content, root, false)...)
package codeowners
