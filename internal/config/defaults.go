package config

const (
	defaultRunsDir               = "aco_runs"
	defaultStateDir              = "~/.local/share/aco"
	defaultLogDir                = "~/.local/share/aco/logs"
	defaultAPIBind               = "127.0.0.1:8000"
	defaultLLMBaseURL            = "https://generativelanguage.googleapis.com/v1beta/openai/chat/completions"
	defaultLLMModel              = "gemini-2.5-flash"
	defaultLLMTimeoutSeconds     = 120
	defaultLLMRequestsPerMinute  = 60
	defaultLLMMaxOutputTokens    = 8192
	defaultLLMRetryAttempts      = 1
	defaultScannerMaxDepth       = 10
	defaultUVBinary              = "uv"
	defaultPythonBinary          = "python3"
	defaultBashBinary            = "/bin/bash"
	defaultRscriptBinary         = "Rscript"
	defaultScriptTimeoutSeconds  = 300
	defaultEnvTimeoutSeconds     = 60
	defaultInstallTimeoutSeconds = 120
	defaultOutputLimitBytes      = 10000
	defaultCodegenConcurrency    = 4
	defaultMaxParallelScripts    = 1
	defaultNtfyTimeoutSeconds    = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			RunsDir:  defaultRunsDir,
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
			APIBind:  defaultAPIBind,
		},
		LLM: LLM{
			BaseURL:           defaultLLMBaseURL,
			Model:             defaultLLMModel,
			TimeoutSeconds:    defaultLLMTimeoutSeconds,
			RequestsPerMinute: defaultLLMRequestsPerMinute,
			MaxOutputTokens:   defaultLLMMaxOutputTokens,
			RetryAttempts:     defaultLLMRetryAttempts,
		},
		Scanner: Scanner{
			MaxDepth: defaultScannerMaxDepth,
		},
		Execution: Execution{
			UVBinary:              defaultUVBinary,
			PythonBinary:          defaultPythonBinary,
			BashBinary:            defaultBashBinary,
			RscriptBinary:         defaultRscriptBinary,
			ScriptTimeoutSeconds:  defaultScriptTimeoutSeconds,
			EnvTimeoutSeconds:     defaultEnvTimeoutSeconds,
			InstallTimeoutSeconds: defaultInstallTimeoutSeconds,
			OutputLimitBytes:      defaultOutputLimitBytes,
			CodegenConcurrency:    defaultCodegenConcurrency,
			MaxParallelScripts:    defaultMaxParallelScripts,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeoutSeconds,
			OnSuccess:             true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
