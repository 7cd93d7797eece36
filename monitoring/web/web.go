// Package web holds the dashboard served by the monitoring server.
package web

import (
	"embed"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// EnvAssetDir names a directory to serve the dashboard from instead of the
// embedded copy.
const EnvAssetDir = "O3SIM_MONITOR_ASSETS"

// EnvDev serves the dashboard from the source tree when true.
const EnvDev = "O3SIM_MONITOR_DEV"

//go:embed dist/*
var dist embed.FS

// GetAssets returns the files of the dashboard.
func GetAssets() http.FileSystem {
	if dir := assetDir(); dir != "" {
		log.Printf("monitor: serving dashboard from %s", dir)
		return http.Dir(dir)
	}

	sub, err := fs.Sub(dist, "dist")
	if err != nil {
		panic(err)
	}

	return http.FS(sub)
}

func assetDir() string {
	if dir := os.Getenv(EnvAssetDir); dir != "" {
		return dir
	}

	dev, _ := strconv.ParseBool(os.Getenv(EnvDev))
	if !dev {
		return ""
	}

	_, file, _, ok := runtime.Caller(0)
	if !ok {
		panic("cannot locate the dashboard sources")
	}

	return filepath.Join(filepath.Dir(file), "dist")
}
