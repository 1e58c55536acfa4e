package statestore

// LoggedOutMarker is the integrity marker value of a clean install with no
// signed-in account. Reset writes it verbatim.
const LoggedOutMarker = `{"jetskiStateSync.agentManagerInitState":1,"history.recentlyOpenedPathsList":1,"antigravityUserSettings.allUserSettings":1,"workbench.view.debug.state.hidden":0,"workbench.activity.pinnedViewlets2":0,"workbench.activity.placeholderViewlets":1,"workbench.view.remote.state.hidden":0,"editorGroupAntigravityWelcomeKeybindings":0,"memento/notebookEditors":1,"memento/customEditors":1,"productIconThemeData":1,"colorThemeData":0,"iconThemeData":1,"workbench.panel.pinnedPanels":0,"workbench.panel.placeholderPanels":1,"~remote.forwardedPortsContainer.hidden":0,"workbench.telemetryOptOutShown":0,"releaseNotes/lastVersion":1,"perf/lastRunningCommit":1,"workbench.sideBar.size":1,"workbench.auxiliaryBar.size":1,"workbench.panel.size":1,"workbench.panel.lastNonMaximizedHeight":1,"workbench.panel.lastNonMaximizedWidth":1,"workbench.auxiliaryBar.lastNonMaximizedSize":1,"workbench.auxiliaryBar.empty":1,"workbench.panel.alignment":0,"chat.ChatSessionStore.index":1,"workbench.panel.repl.hidden":0,"google.antigravity":1,"extensions.trustedPublishers":0,"trusted-publishers-init-migration":1,"remote.wslFeatureInstalled":1,"chat.participantNameRegistry":1,"extensionTips/lastPromptedMediumImpExeTime":1,"vscode.typescript-language-features":1,"editorFontInfo":1,"workbench.activityBar.location":0,"antigravityChangelog/lastVersion":1,"sync.productQuality":1,"terminal.history.entries.dirs":1,"terminal.history.timestamp.dirs":1,"antigravityAuthStatus":0,"antigravity_allowed_command_model_configs":0,"antigravityOnboarding":0,"workbench.quickInput.viewState":1,"workbench.explorer.views.state.hidden":0,"chat.workspaceTransfer":1,"vscode.git":1,"vscode.github":1,"content.trust.model.key":1,"extensionsAssistant/recommendations":1,"editorOverrideService.cache":1,"workbench.editor.languageDetectionOpenedLanguages.global":1}`
