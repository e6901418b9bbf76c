package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/logcarga/armazem/internal/db"
	"github.com/logcarga/armazem/internal/transportadora"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	_ = godotenv.Load()

	ctx := context.Background()

	dsn := strings.TrimSpace(os.Getenv("DB_DSN"))
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" {
		log.Fatal().Msg("defina DB_DSN ou DATABASE_URL")
	}

	pool, err := db.NewPool(ctx, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("não foi possível conectar ao banco")
	}
	defer pool.Close()

	service := transportadora.NewService(transportadora.NewRepository(pool))

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "create":
		if err := runCreate(ctx, service, args); err != nil {
			log.Fatal().Err(err).Msg("falha ao criar transportadora")
		}
	case "list":
		if err := runList(ctx, service); err != nil {
			log.Fatal().Err(err).Msg("falha ao listar transportadoras")
		}
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "transportadora CLI")
	fmt.Fprintln(os.Stderr, "uso:")
	fmt.Fprintln(os.Stderr, "  transportadora create --slug translog --name \"Translog LTDA\" --cnpj 11.222.333/0001-81 --domain translog.logcarga.com.br [--settings-file settings.json]")
	fmt.Fprintln(os.Stderr, "  transportadora create --slug translog --name \"Translog LTDA\" --cnpj 11.222.333/0001-81 --domain translog.logcarga.com.br --settings '{\\\"corPrimaria\\\":\\\"#123456\\\"}'")
	fmt.Fprintln(os.Stderr, "  transportadora list")
}

func runCreate(ctx context.Context, service *transportadora.Service, args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		slug         = fs.String("slug", "", "slug da transportadora (ex.: translog)")
		name         = fs.String("name", "", "razão social")
		cnpj         = fs.String("cnpj", "", "CNPJ com ou sem máscara")
		domain       = fs.String("domain", "", "domínio completo (ex.: translog.logcarga.com.br)")
		settingsFile = fs.String("settings-file", "", "arquivo JSON com configurações visuais")
		settingsJSON = fs.String("settings", "", "JSON literal com configurações visuais")
	)

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *slug == "" || *name == "" || *cnpj == "" {
		return errors.New("slug, name e cnpj são obrigatórios")
	}

	settings := map[string]any{}
	if *settingsFile != "" {
		raw, err := os.ReadFile(*settingsFile)
		if err != nil {
			return fmt.Errorf("ler settings-file: %w", err)
		}
		if err := json.Unmarshal(raw, &settings); err != nil {
			return fmt.Errorf("parse settings-file: %w", err)
		}
	} else if *settingsJSON != "" {
		if err := json.Unmarshal([]byte(*settingsJSON), &settings); err != nil {
			return fmt.Errorf("parse settings: %w", err)
		}
	}

	created, err := service.Create(ctx, transportadora.CreateInput{
		Slug:        *slug,
		RazaoSocial: *name,
		CNPJ:        *cnpj,
		Dominio:     *domain,
		Settings:    settings,
	})
	if err != nil {
		return err
	}

	output, _ := json.MarshalIndent(created, "", "  ")
	fmt.Println(string(output))
	return nil
}

func runList(ctx context.Context, service *transportadora.Service) error {
	items, err := service.List(ctx)
	if err != nil {
		return err
	}

	if len(items) == 0 {
		fmt.Println("nenhuma transportadora cadastrada")
		return nil
	}

	encoded, _ := json.MarshalIndent(items, "", "  ")
	fmt.Println(string(encoded))
	return nil
}
