package translate

import "testing"

func TestHeuristicToolParserPlainTextPassesThrough(t *testing.T) {
	var p HeuristicToolParser
	text, blocks := p.Feed("just some regular output")
	if text != "just some regular output" {
		t.Errorf("got %q", text)
	}
	if len(blocks) != 0 {
		t.Errorf("expected no tool blocks, got %+v", blocks)
	}
}

func TestHeuristicToolParserSingleCompleteCall(t *testing.T) {
	var p HeuristicToolParser
	input := "before ● <function=get_weather><parameter=city>nyc</parameter> after"
	text, blocks := p.Feed(input)

	if text != "before  after" {
		t.Errorf("expected leading and trailing text to pass through, got %q", text)
	}
	if len(blocks) != 1 {
		t.Fatalf("expected 1 tool block, got %+v", blocks)
	}
	b := blocks[0]
	if b.Name != "get_weather" {
		t.Errorf("got name %q", b.Name)
	}
	if b.Params["city"] != "nyc" {
		t.Errorf("got params %+v", b.Params)
	}
	if b.ID == "" {
		t.Errorf("expected a generated tool call id")
	}
}

func TestHeuristicToolParserStreamedAcrossChunks(t *testing.T) {
	var p HeuristicToolParser
	var text string
	var blocks []HeuristicToolParserBlock

	chunks := []string{
		"thinking... ● <function=get_weat",
		"her><parameter=city>ny",
		"c</parameter> done",
	}
	for _, c := range chunks {
		t2, b2 := p.Feed(c)
		text += t2
		blocks = append(blocks, b2...)
	}

	if len(blocks) != 1 {
		t.Fatalf("expected exactly 1 tool block assembled across chunks, got %+v", blocks)
	}
	if blocks[0].Name != "get_weather" || blocks[0].Params["city"] != "nyc" {
		t.Errorf("got %+v", blocks[0])
	}
	if text != "thinking...  done" {
		t.Errorf("got accumulated text %q", text)
	}
}

func TestHeuristicToolParserStripsControlTokens(t *testing.T) {
	var p HeuristicToolParser
	text, _ := p.Feed("hello <|im_end|> world")
	if text != "hello  world" {
		t.Errorf("expected control token stripped, got %q", text)
	}
}

func TestHeuristicToolParserFlushEmitsIncompleteTrailingCall(t *testing.T) {
	var p HeuristicToolParser
	p.Feed("● <function=do_thing><parameter=x>incomplete tail no close")
	blocks := p.Flush()
	if len(blocks) != 1 {
		t.Fatalf("expected Flush to force-emit the incomplete call, got %+v", blocks)
	}
	if blocks[0].Name != "do_thing" {
		t.Errorf("got %+v", blocks[0])
	}
	if blocks[0].Params["x"] != "incomplete tail no close" {
		t.Errorf("got params %+v", blocks[0].Params)
	}
}

func TestHeuristicToolParserMultipleParameters(t *testing.T) {
	var p HeuristicToolParser
	_, blocks := p.Feed("● <function=search><parameter=query>weather</parameter><parameter=limit>5</parameter> trailing text")
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %+v", blocks)
	}
	if blocks[0].Params["query"] != "weather" || blocks[0].Params["limit"] != "5" {
		t.Errorf("got params %+v", blocks[0].Params)
	}
}
