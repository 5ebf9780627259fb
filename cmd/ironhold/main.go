// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log"
	"math/big"
	"os"
	"time"

	"github.com/docopt/docopt-go"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/oragono/ironhold/irc"
	"github.com/oragono/ironhold/irc/logger"
	"github.com/oragono/ironhold/irc/passwd"
)

const usage = `ironhold.
Usage:
	ironhold run [--conf <filename>] [--quiet]
	ironhold initdb [--conf <filename>]
	ironhold mkcerts [--conf <filename>] [--quiet]
	ironhold genpasswd
	ironhold -h | --help
	ironhold --version
Options:
	--conf <filename>  Configuration file to use [default: ironhold.yaml].
	--quiet            Don't show startup/shutdown lines.
	-h --help          Show this screen.
	--version          Show version.
`

func main() {
	arguments, _ := docopt.ParseArgs(usage, os.Args[1:], irc.Ver)

	if arguments["genpasswd"].(bool) {
		doGenPasswd()
		return
	}

	configfile := "ironhold.yaml"
	if conf, ok := arguments["--conf"].(string); ok && conf != "" {
		configfile = conf
	}

	config, err := irc.LoadConfig(configfile)
	if err != nil {
		log.Fatalln("Config load error:", err.Error())
	}

	if arguments["initdb"].(bool) {
		doInitDB(config)
		return
	}

	verbose := !arguments["--quiet"].(bool)

	if arguments["mkcerts"].(bool) {
		doMkcerts(config, verbose)
		return
	}

	if arguments["run"].(bool) {
		doRun(config, verbose)
	}
}

func doGenPasswd() {
	fmt.Print("Enter Password: ")
	passBytes, err := terminal.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		log.Fatalln("Error reading password:", err.Error())
	}

	hash, err := passwd.GenerateFromPassword(passBytes)
	if err != nil {
		log.Fatalln("Error generating hash:", err.Error())
	}
	fmt.Println(hash)
}

func doInitDB(config *irc.Config) {
	err := irc.InitDB(config.Datastore.Path)
	if err != nil {
		log.Fatalln("Could not initialize datastore:", err.Error())
	}
	log.Println("Datastore created at", config.Datastore.Path)
}

// doMkcerts generates a self-signed ECDSA certificate for local testing, the
// same stdlib path the teacher's own cert bootstrap takes: no pack example
// wraps x509 cert generation in a third-party library (see DESIGN.md).
func doMkcerts(config *irc.Config, verbose bool) {
	certPath := config.Security.CertificateFile
	keyPath := config.Security.CertificateKey
	if certPath == "" || keyPath == "" {
		log.Fatalln("security.certificate-file and security.certificate-key must be set")
	}

	if verbose {
		log.Println("making self-signed certificates")
	}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		log.Fatalln("Could not generate key:", err.Error())
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		log.Fatalln("Could not generate serial number:", err.Error())
	}

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{config.Server.Name},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(3, 0, 0),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{config.Server.Name},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		log.Fatalln("Could not create certificate:", err.Error())
	}

	certOut, err := os.Create(certPath)
	if err != nil {
		log.Fatalln("Could not open cert file for writing:", err.Error())
	}
	pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der})
	certOut.Close()

	keyBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		log.Fatalln("Could not marshal private key:", err.Error())
	}
	keyOut, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		log.Fatalln("Could not open key file for writing:", err.Error())
	}
	pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})
	keyOut.Close()

	if verbose {
		log.Println("certificate and key written to", certPath, keyPath)
	}
}

func doRun(config *irc.Config, verbose bool) {
	logman := setupLogging(config)

	server, err := irc.NewServer(config, logman)
	if err != nil {
		logman.Error("server", fmt.Sprintln("Could not load server:", err.Error()))
		os.Exit(1)
	}

	if verbose {
		logman.Info("server", fmt.Sprintf("ironhold starting (%s)", irc.Ver))
	}
	server.Run()
}

func setupLogging(config *irc.Config) *logger.Manager {
	logman := logger.NewManager()
	if err := logman.ApplyConfig(config.Logging); err != nil {
		log.Fatalln("Logger configuration error:", err.Error())
	}
	return logman
}
