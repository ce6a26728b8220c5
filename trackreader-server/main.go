// Copyright 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// This binary provides a feature server that backs onto local files or
// resources in GCS.
package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/googlegenomics/trackreader/api"
	"github.com/googlegenomics/trackreader/internal/config"
	"github.com/googlegenomics/trackreader/sources/gcs"
	"github.com/googlegenomics/trackreader/sources/location"
)

var (
	configFile = flag.String("config", "", "YAML configuration file")
	port       = flag.Int("port", 0, "HTTP service port, overriding the configuration")
	directory  = flag.String("directory", "", "if set, serves files from this directory instead of GCS")

	secure    = flag.Bool("secure", false, "serve in HTTPS-only mode and forward client bearer tokens")
	httpsCert = flag.String("https_cert", "", "HTTPS certificate file")
	httpsKey  = flag.String("https_key", "", "HTTPS key file")

	buckets = flag.String("buckets", "", "if set, restricts reads to a comma-separated list of buckets")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadFile(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *directory != "" {
		cfg.Server.Directory = *directory
	}
	if *secure {
		cfg.Server.Secure, cfg.Server.HTTPSCert, cfg.Server.HTTPSKey = true, *httpsCert, *httpsKey
	}
	if *buckets != "" {
		cfg.Server.Buckets = append(cfg.Server.Buckets, strings.Split(*buckets, ",")...)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	level, _ := cfg.Level()
	log.SetLevel(level)

	opts := location.Options{Directory: cfg.Server.Directory}
	var open api.Opener
	if cfg.Server.Secure {
		open = api.NewBearerTokenOpener(opts)
	} else {
		if cfg.Server.Directory == "" {
			client, err := gcs.NewPublicClient(context.Background())
			if err != nil {
				log.Fatalf("Failed to create storage client: %v", err)
			}
			opts.Storage = client
		}
		open = api.NewOpener(opts)
	}

	server := api.NewServer(open, cfg)
	defer server.Close()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	server.Register(router)

	address := fmt.Sprintf(":%d", cfg.Server.Port)
	log.WithField("address", address).Info("Serving features")
	if cfg.Server.Secure {
		if err := router.RunTLS(address, cfg.Server.HTTPSCert, cfg.Server.HTTPSKey); err != nil {
			log.Fatalf("HTTPS server returned an error: %v", err)
		}
	} else {
		if err := router.Run(address); err != nil {
			log.Fatalf("HTTP server returned an error: %v", err)
		}
	}
}
