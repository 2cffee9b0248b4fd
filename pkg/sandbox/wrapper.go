package sandbox

import (
	"fmt"
	"strings"
)

// Program is a structured, runnable rendition of a submission: the file to
// write into the workspace and the container command that executes it with
// the test input on stdin.
type Program struct {
	Image    string
	FileName string
	Source   string
	Cmd      []string
}

// CodeWrapper turns raw submission source into a Program for one target
// language. Wrapping is data, not ad hoc string interpolation: each language
// variant pins its image, file name, and run command template.
type CodeWrapper struct {
	Language string
	Image    string
	FileName string

	// runTemplate receives the source file name and the input file name.
	runTemplate string
}

// inputFileName is where each test case's input is staged in the workspace.
const inputFileName = "input.txt"

var wrappers = map[string]CodeWrapper{
	"python": {
		Language:    "python",
		Image:       "python:3.11-alpine",
		FileName:    "main.py",
		runTemplate: "python %s < %s",
	},
	"javascript": {
		Language:    "javascript",
		Image:       "node:20-alpine",
		FileName:    "main.js",
		runTemplate: "node %s < %s",
	},
	"go": {
		Language:    "go",
		Image:       "golang:1.22-alpine",
		FileName:    "main.go",
		runTemplate: "go run %s < %s",
	},
	"java": {
		Language:    "java",
		Image:       "eclipse-temurin:21-jdk-alpine",
		FileName:    "Main.java",
		runTemplate: "javac %s && java Main < %s",
	},
}

// ForLanguage resolves the wrapper for a language, case-insensitively.
func ForLanguage(language string) (CodeWrapper, bool) {
	wrapper, ok := wrappers[strings.ToLower(strings.TrimSpace(language))]
	return wrapper, ok
}

// SupportedLanguages lists the languages the sandbox can run.
func SupportedLanguages() []string {
	languages := make([]string, 0, len(wrappers))
	for language := range wrappers {
		languages = append(languages, language)
	}
	return languages
}

// Wrap produces the runnable program for the given source.
func (w CodeWrapper) Wrap(source string) Program {
	return Program{
		Image:    w.Image,
		FileName: w.FileName,
		Source:   source,
		Cmd:      []string{"sh", "-c", fmt.Sprintf(w.runTemplate, w.FileName, inputFileName)},
	}
}
