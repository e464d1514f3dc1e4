package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/timmy/enrollflow/internal/config"
	"github.com/timmy/enrollflow/internal/crm"
	"github.com/timmy/enrollflow/internal/domain"
	"github.com/timmy/enrollflow/internal/logger"
)

// upload attaches an approval and/or payment slip to a CRM record without
// running an enrollment. It exits 0 only when every field was attached.
func main() {
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "enrollflow-upload",
	})
	logger.SetDefaultLogger(appLogger)

	recordID := flag.String("record", "", "CRM record id")
	nationalID := flag.String("national-id", "", "Applicant national id; every file name must contain it")
	approval := flag.String("approval", "", "Approval image path, relative to the artifacts dir")
	paymentSlip := flag.String("payment-slip", "", "Payment slip PDF path, relative to the artifacts dir")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	if *recordID == "" || *nationalID == "" {
		appLogger.Fatal("-record and -national-id are required")
	}

	task := domain.UploadTask{RecordID: *recordID, NationalID: domain.Digits(*nationalID)}
	if *approval != "" {
		task.Fields = append(task.Fields, domain.FieldUpload{FieldName: cfg.CRM.ApprovalField, LocalPath: *approval})
	}
	if *paymentSlip != "" {
		task.Fields = append(task.Fields, domain.FieldUpload{FieldName: cfg.CRM.PaymentSlipField, LocalPath: *paymentSlip})
	}
	if len(task.Fields) == 0 {
		appLogger.Fatal("nothing to upload: pass -approval and/or -payment-slip")
	}

	appLogger.WithFields(logger.Fields{
		"record": task.RecordID,
		"fields": len(task.Fields),
		"driver": cfg.CRM.DriverURL,
	}).Info("Starting upload")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, cancelling upload...")
		cancel()
	}()

	coordinator := crm.NewCoordinatorFromConfig(crm.NewRemoteDriver(crm.RemoteConfigFrom(&cfg.CRM)), &cfg.CRM)
	result, err := coordinator.Upload(ctx, task)
	if result != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
	}
	if err != nil {
		appLogger.WithError(err).Fatal("Upload failed")
	}
	if !result.Complete() {
		appLogger.WithFields(logger.Fields{"partial": result.Partial()}).Error("Upload incomplete")
		os.Exit(1)
	}
	appLogger.Info("Upload completed")
}
