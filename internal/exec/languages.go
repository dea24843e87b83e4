package exec

import (
	"sort"
	"strings"

	"codecollab/internal/models"
)

// LanguageSpec describes how one language is submitted to each sandbox
// backend. Judge0ID is the hosted sandbox's language identifier; Image and
// the commands drive the local Docker backend and may be empty when only the
// hosted sandbox supports the language.
type LanguageSpec struct {
	Name       models.Language
	Judge0ID   int
	FileName   string
	Image      string
	CompileCmd string
	RunCmd     string
}

var languageTable = map[models.Language]LanguageSpec{
	models.LangPython: {
		Name: models.LangPython, Judge0ID: 71, FileName: "main.py",
		Image: "python:3.11-slim", RunCmd: "python3 main.py",
	},
	models.LangJava: {
		Name: models.LangJava, Judge0ID: 62, FileName: "Main.java",
		Image: "eclipse-temurin:17-jdk", CompileCmd: "javac Main.java", RunCmd: "java Main",
	},
	models.LangCPP: {
		Name: models.LangCPP, Judge0ID: 54, FileName: "main.cpp",
		Image: "gcc:13", CompileCmd: "g++ -O2 -std=c++17 main.cpp -o main", RunCmd: "./main",
	},
	models.LangC: {
		Name: models.LangC, Judge0ID: 50, FileName: "main.c",
		Image: "gcc:13", CompileCmd: "gcc -O2 main.c -o main", RunCmd: "./main",
	},
	models.LangJavaScript: {
		Name: models.LangJavaScript, Judge0ID: 63, FileName: "main.js",
		Image: "node:20-slim", RunCmd: "node main.js",
	},
	models.LangTypeScript: {Name: models.LangTypeScript, Judge0ID: 74, FileName: "main.ts"},
	models.LangGo: {
		Name: models.LangGo, Judge0ID: 60, FileName: "main.go",
		Image: "golang:1.22", RunCmd: "go run main.go",
	},
	"php":    {Name: "php", Judge0ID: 68, FileName: "main.php"},
	"ruby":   {Name: "ruby", Judge0ID: 72, FileName: "main.rb"},
	"rust":   {Name: "rust", Judge0ID: 73, FileName: "main.rs"},
	"swift":  {Name: "swift", Judge0ID: 83, FileName: "main.swift"},
	"kotlin": {Name: "kotlin", Judge0ID: 78, FileName: "Main.kt"},
	"scala":  {Name: "scala", Judge0ID: 81, FileName: "Main.scala"},
	"csharp": {Name: "csharp", Judge0ID: 51, FileName: "Main.cs"},
}

// Lookup resolves a language tag case-insensitively.
func Lookup(lang models.Language) (LanguageSpec, bool) {
	spec, ok := languageTable[models.Language(strings.ToLower(strings.TrimSpace(string(lang))))]
	return spec, ok
}

// Languages lists every supported language ordered by name.
func Languages() []models.LanguageInfo {
	out := make([]models.LanguageInfo, 0, len(languageTable))
	for _, spec := range languageTable {
		out = append(out, models.LanguageInfo{Name: spec.Name, SandboxID: spec.Judge0ID, FileName: spec.FileName})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
