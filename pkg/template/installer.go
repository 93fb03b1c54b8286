package template

import (
	"strings"
	"text/template"
)

// ScriptStep is one rendered installer step. Policy is "fatal" or "best_effort".
type ScriptStep struct {
	Name   string
	Policy string
	Body   string
}

// InstallerScriptData fills InstallerScript.
type InstallerScriptData struct {
	ID              string
	AppName         string
	ProcessName     string
	ArtifactPath    string
	TargetAppPath   string
	ExecutableDir   string
	ScratchDir      string
	ScriptPath      string
	ManifestPath    string
	LogPath         string
	RelaunchFlag    string
	SigningIdentity string
	TerminateWait   int
	Steps           []ScriptStep
}

var InstallerScript = `#!/bin/sh
# {{.AppName}} update installer {{.ID}}
set -u

INSTALL_ID={{quote .ID}}
APP_NAME={{quote .AppName}}
PROCESS={{quote .ProcessName}}
ARTIFACT={{quote .ArtifactPath}}
TARGET={{quote .TargetAppPath}}
EXEC_DIR={{quote .ExecutableDir}}
SCRATCH={{quote .ScratchDir}}
SCRIPT_PATH={{quote .ScriptPath}}
MANIFEST={{quote .ManifestPath}}
LOG_PATH={{quote .LogPath}}
RELAUNCH_FLAG={{quote .RelaunchFlag}}
SIGN_ID={{quote .SigningIdentity}}
TERMINATE_WAIT={{.TerminateWait}}
BUNDLE=""

exec >>"$LOG_PATH" 2>&1

log() {
    printf '%s [%s] %s\n' "$(date '+%Y-%m-%d %H:%M:%S')" "$INSTALL_ID" "$*"
}

finish() {
    log "installer exiting with status $1"
    exit "$1"
}

# Runs on every exit. A failed or interrupted install also drops the staged
# artifact and manifest; the installed bundle is left as it is.
on_exit() {
    status=$?
    rm -rf "$SCRATCH"
    if [ "$status" -ne 0 ]; then
        exec 4<&-
        rm -f "$ARTIFACT" "$MANIFEST"
    fi
    rm -f "$SCRIPT_PATH"
}
trap on_exit EXIT
trap 'log "installer interrupted"; exit 1' HUP INT TERM

run_step() {
    policy="$1"
    name="$2"
    log "step $name: start"
    if "$3"; then
        log "step $name: ok"
        return 0
    fi
    if [ "$policy" = "fatal" ]; then
        log "step $name: failed, aborting update"
        finish 1
    fi
    log "step $name: failed, continuing"
    return 0
}

log "installing $APP_NAME from $ARTIFACT into $TARGET"
{{range $i, $s := .Steps}}
# {{$s.Name}} ({{$s.Policy}})
step_{{$i}}() {
{{indent $s.Body}}
}
{{end}}
{{range $i, $s := .Steps}}run_step {{$s.Policy}} {{$s.Name}} step_{{$i}}
{{end}}
log "update of $APP_NAME finished"
rm -f {{quote .ScriptPath}}
`

var installerTmpl = template.Must(template.New("installer").Funcs(template.FuncMap{
	"quote":  ShellQuote,
	"indent": indent,
}).Parse(InstallerScript))

// RenderInstallerScript renders InstallerScript for data.
func RenderInstallerScript(data InstallerScriptData) (string, error) {
	var b strings.Builder
	if err := installerTmpl.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// ShellQuote single-quotes s for POSIX sh.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func indent(body string) string {
	lines := strings.Split(strings.TrimRight(body, "\n"), "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = "    " + l
		}
	}
	return strings.Join(lines, "\n")
}
