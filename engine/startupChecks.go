package engine

import (
	"fmt"
	"os"

	"github.com/drummonds/goview/config"
	"github.com/drummonds/goview/render/backend"
)

// StartupChecks performs all the checks to make sure everything works
func (serverHandler *ServerHandler) StartupChecks() error {
	if err := backendChecks(serverHandler.ServerConfig); err != nil {
		return err
	}
	if err := documentDirectoryChecks(serverHandler.ServerConfig); err != nil {
		return err
	}
	if err := exportDirectoryChecks(serverHandler.ServerConfig); err != nil {
		return err
	}
	return nil
}

// backendChecks verifies a usable render engine is registered before the
// server starts accepting documents.
func backendChecks(serverConfig config.ServerConfig) error {
	available := backend.Available()
	if len(available) == 0 {
		Logger.Error("No render backends registered in this build")
		return fmt.Errorf("no render backends available")
	}

	if serverConfig.Backend != "" {
		for _, name := range available {
			if name == serverConfig.Backend {
				Logger.Info("Render backend configured", "backend", serverConfig.Backend)
				return nil
			}
		}
		Logger.Error("Configured render backend is not registered", "backend", serverConfig.Backend, "available", available)
		return fmt.Errorf("render backend %q is not available", serverConfig.Backend)
	}

	Logger.Info("Render backends available", "backends", available)
	return nil
}

// documentDirectoryChecks ensures the document storage directory exists
func documentDirectoryChecks(serverConfig config.ServerConfig) error {
	if serverConfig.DocumentPath == "" {
		Logger.Warn("Document path not configured")
		return nil
	}

	// Check if directory exists
	docInfo, err := os.Stat(serverConfig.DocumentPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Create the directory
			Logger.Info("Creating document directory", "path", serverConfig.DocumentPath)
			err = os.MkdirAll(serverConfig.DocumentPath, 0755)
			if err != nil {
				Logger.Error("Failed to create document directory", "path", serverConfig.DocumentPath, "error", err)
				return err
			}
			Logger.Info("Document directory created successfully", "path", serverConfig.DocumentPath)
			return nil
		}
		Logger.Error("Error checking document directory", "path", serverConfig.DocumentPath, "error", err)
		return err
	}

	// Check if it's actually a directory
	if !docInfo.IsDir() {
		Logger.Error("Document path exists but is not a directory", "path", serverConfig.DocumentPath)
		return fmt.Errorf("document path is not a directory: %s", serverConfig.DocumentPath)
	}

	Logger.Info("Document directory exists", "path", serverConfig.DocumentPath)
	return nil
}

// exportDirectoryChecks ensures the page export directory exists
func exportDirectoryChecks(serverConfig config.ServerConfig) error {
	if serverConfig.ExportPath == "" {
		Logger.Warn("Export path not configured")
		return nil
	}

	exportInfo, err := os.Stat(serverConfig.ExportPath)
	if err != nil {
		if os.IsNotExist(err) {
			Logger.Info("Creating export directory", "path", serverConfig.ExportPath)
			err = os.MkdirAll(serverConfig.ExportPath, 0755)
			if err != nil {
				Logger.Error("Failed to create export directory", "path", serverConfig.ExportPath, "error", err)
				return err
			}
			Logger.Info("Export directory created successfully", "path", serverConfig.ExportPath)
			return nil
		}
		Logger.Error("Error checking export directory", "path", serverConfig.ExportPath, "error", err)
		return err
	}

	if !exportInfo.IsDir() {
		Logger.Error("Export path exists but is not a directory", "path", serverConfig.ExportPath)
		return fmt.Errorf("export path is not a directory: %s", serverConfig.ExportPath)
	}

	Logger.Info("Export directory exists", "path", serverConfig.ExportPath)
	return nil
}
