// Package ai parses invoice text into a structured record with an OpenAI model.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
	"github.com/openai/openai-go/shared/constant"
	"github.com/rs/zerolog"
	validator "github.com/santhosh-tekuri/jsonschema/v5"

	"invoice-recon/internal/core"
)

const instructions = `You extract structured data from supplier invoices for a restaurant's inventory system.
Rules:
1. Copy item descriptions exactly as printed, including pack sizes such as "Case of 50" or "12x1L".
2. Amounts and quantities are plain decimal strings without currency symbols (e.g. "1250.00").
3. Leave a field empty when it is not printed; never invent values.
4. Dates use YYYY-MM-DD.
5. Exclude subtotal, tax, freight and total rows from lines.
6. Give each line and the header a confidence between 0.0 and 1.0.`

// completer sends one request and returns the model's raw JSON text.
type completer func(ctx context.Context, prompt string) (string, error)

// OpenAIParser implements core.InvoiceParser with a single structured-output call.
type OpenAIParser struct {
	complete completer
	schema   *validator.Schema
	log      zerolog.Logger
}

func NewOpenAIParser(apiKey, model string, log zerolog.Logger) (*OpenAIParser, error) {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	format, err := schemaMap()
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = string(shared.ChatModelGPT4o)
	}
	call := func(ctx context.Context, prompt string) (string, error) {
		resp, err := client.Responses.New(ctx, responses.ResponseNewParams{
			Model:        shared.ResponsesModel(model),
			Instructions: param.NewOpt(instructions),
			Input: responses.ResponseNewParamsInputUnion{
				OfString: param.NewOpt(prompt),
			},
			Text: responses.ResponseTextConfigParam{
				Format: responses.ResponseFormatTextConfigUnionParam{
					OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
						Type:        constant.JSONSchema("json_schema"),
						Name:        "parsed_invoice",
						Strict:      param.NewOpt(true),
						Schema:      format,
						Description: param.NewOpt("Header fields and purchased line items of a supplier invoice"),
					},
				},
			},
		})
		if err != nil {
			return "", fmt.Errorf("openai responses error: %w", err)
		}
		return resp.OutputText(), nil
	}
	return newParser(call, log)
}

func newParser(call completer, log zerolog.Logger) (*OpenAIParser, error) {
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	return &OpenAIParser{
		complete: call,
		schema:   schema,
		log:      log.With().Str("component", "invoice_parser").Logger(),
	}, nil
}

// Parse makes one attempt. Every failure is reported in the result, never as an error.
func (p *OpenAIParser) Parse(ctx context.Context, text, supplierHint string) core.ParseResult {
	if strings.TrimSpace(text) == "" {
		return failed("no text to parse")
	}

	content, err := p.complete(ctx, buildPrompt(text, supplierHint))
	if err != nil {
		p.log.Warn().Err(err).Msg("parser call failed")
		return failed(err.Error())
	}
	if strings.TrimSpace(content) == "" {
		return failed("empty response content")
	}

	var raw any
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return failed(fmt.Sprintf("response is not JSON: %v", err))
	}
	if err := p.schema.Validate(raw); err != nil {
		return failed(fmt.Sprintf("response does not match schema: %v", err))
	}
	var inv core.ParsedInvoice
	if err := json.Unmarshal([]byte(content), &inv); err != nil {
		return failed(fmt.Sprintf("failed to decode response: %v", err))
	}
	if len(inv.Lines) == 0 {
		return failed("no line items found")
	}

	conf, warnings := assess(&inv)
	p.log.Info().Int("lines", len(inv.Lines)).Float64("confidence", conf).
		Strs("warnings", warnings).Msg("invoice parsed")
	return core.ParseResult{Success: true, Invoice: inv, Confidence: conf, Errors: warnings}
}

func failed(msg string) core.ParseResult {
	return core.ParseResult{Success: false, Errors: []string{msg}}
}

func buildPrompt(text, supplierHint string) string {
	var b strings.Builder
	if supplierHint != "" {
		fmt.Fprintf(&b, "The invoice is expected to be from supplier %q.\n\n", supplierHint)
	}
	b.WriteString("Invoice text:\n")
	b.WriteString(text)
	return b.String()
}

func reflectSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		Anonymous:                 true,
	}
	return reflector.Reflect(&core.ParsedInvoice{})
}

// schemaMap is the reflected schema in the generic form the Responses API expects.
func schemaMap() (map[string]any, error) {
	b, err := json.Marshal(reflectSchema())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema to map: %w", err)
	}
	return m, nil
}

func compileSchema() (*validator.Schema, error) {
	b, err := json.Marshal(reflectSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := validator.NewCompiler()
	if err := compiler.AddResource("parsed_invoice.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("parsed_invoice.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}
