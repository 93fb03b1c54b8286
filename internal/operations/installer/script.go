package installer

import (
	"github.com/CloudNativeWorks/ilog/pkg/template"
)

// Render produces the installer script for req running steps in order.
func Render(req *InstallRequest, steps []Step) (string, error) {
	if err := ValidateSteps(steps); err != nil {
		return "", err
	}

	data := template.InstallerScriptData{
		ID:              req.ID,
		AppName:         req.AppName,
		ProcessName:     req.ProcessName,
		ArtifactPath:    req.ArtifactPath,
		TargetAppPath:   req.TargetAppPath,
		ExecutableDir:   req.ExecutableDir,
		ScratchDir:      req.ScratchDir,
		ScriptPath:      req.ScriptPath,
		ManifestPath:    req.ManifestPath,
		LogPath:         req.LogPath,
		RelaunchFlag:    req.RelaunchFlag,
		SigningIdentity: req.SigningIdentity,
		TerminateWait:   req.terminateWaitSeconds(),
	}
	for _, s := range steps {
		data.Steps = append(data.Steps, template.ScriptStep{
			Name:   s.Name,
			Policy: s.Policy.String(),
			Body:   s.Body,
		})
	}

	return template.RenderInstallerScript(data)
}
