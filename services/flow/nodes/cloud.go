// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package nodes

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/AleutianAI/AleutianFlow/services/flow/catalog"
)

func registerCloud(reg *catalog.Registry, deps Deps) error {
	upload := func(ctx context.Context, params map[string]any) (any, error) {
		return runGCSUpload(ctx, deps.GCS, deps.GCSBucket, params)
	}
	if err := reg.Register(catalog.NodeSpec{
		Type:        "gcs_upload",
		Name:        "GCS Upload",
		Description: "Uploads content as an object in the configured Cloud Storage bucket.",
		Params: []catalog.ParamSpec{
			{Name: "object", Kind: catalog.KindString, Required: true, Doc: "Object name within the bucket."},
			{Name: "content", Kind: catalog.KindAny, Required: true, Doc: "Content to upload. Objects and arrays upload as JSON."},
			{Name: "content_type", Kind: catalog.KindString, Default: "text/plain", Doc: "MIME type recorded on the object."},
		},
		Outputs: []catalog.OutputSpec{
			{Name: "uri", Doc: "gs:// URI of the uploaded object."},
			{Name: "bytes_written", Doc: "Number of bytes uploaded."},
		},
		Retryable: true,
	}, catalog.FuncFactory(upload)); err != nil {
		return err
	}

	write := func(ctx context.Context, params map[string]any) (any, error) {
		return runInfluxWrite(ctx, deps.Influx, params)
	}
	return reg.Register(catalog.NodeSpec{
		Type:        "influx_write",
		Name:        "Influx Write",
		Description: "Writes one measurement point to the configured InfluxDB bucket.",
		Params: []catalog.ParamSpec{
			{Name: "measurement", Kind: catalog.KindString, Required: true, Doc: "Measurement name."},
			{Name: "fields", Kind: catalog.KindMapping, Required: true, Doc: "Field values by name."},
			{Name: "tags", Kind: catalog.KindMapping, Doc: "Tag values by name."},
		},
		Outputs: []catalog.OutputSpec{
			{Name: "written", Doc: "True when the point was accepted."},
			{Name: "measurement", Doc: "The measurement written."},
		},
		Retryable: true,
	}, catalog.FuncFactory(write))
}

func runGCSUpload(ctx context.Context, client *storage.Client, bucket string, params map[string]any) (any, error) {
	if client == nil || bucket == "" {
		return nil, catalog.Permanent(fmt.Errorf("cloud storage is not configured"))
	}
	object, err := stringParam(params, "object")
	if err != nil {
		return nil, err
	}
	content, err := contentText(params["content"])
	if err != nil {
		return nil, err
	}
	contentType, err := optionalString(params, "content_type", "text/plain")
	if err != nil {
		return nil, err
	}

	w := client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	n, err := w.Write([]byte(content))
	if err != nil {
		w.Close()
		return nil, catalog.Transient(fmt.Errorf("upload %q: %w", object, err))
	}
	// Close performs the upload; its error is the one that matters.
	if err := w.Close(); err != nil {
		return nil, catalog.Transient(fmt.Errorf("upload %q: %w", object, err))
	}
	return map[string]any{
		"uri":           fmt.Sprintf("gs://%s/%s", bucket, object),
		"bytes_written": n,
	}, nil
}

func runInfluxWrite(ctx context.Context, writer api.WriteAPIBlocking, params map[string]any) (any, error) {
	if writer == nil {
		return nil, catalog.Permanent(fmt.Errorf("influxdb is not configured"))
	}
	measurement, err := stringParam(params, "measurement")
	if err != nil {
		return nil, err
	}
	fields, err := mappingParam(params, "fields")
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, catalog.Invalid(fmt.Errorf("param \"fields\": must not be empty"))
	}
	rawTags, err := mappingParam(params, "tags")
	if err != nil {
		return nil, err
	}
	tags := make(map[string]string, len(rawTags))
	for name, value := range rawTags {
		tags[name] = renderValue(value)
	}

	point := influxdb2.NewPoint(measurement, tags, fields, time.Now())
	if err := writer.WritePoint(ctx, point); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, catalog.Transient(fmt.Errorf("write point %q: %w", measurement, err))
	}
	return map[string]any{"written": true, "measurement": measurement}, nil
}
