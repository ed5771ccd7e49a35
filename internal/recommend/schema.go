package recommend

// actionSchema 校验结构化输出中的单个动作（字段名已归一化）。
const actionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["side", "symbol"],
  "properties": {
    "side": {"type": "string", "enum": ["buy", "sell", "sell_short", "buy_to_cover"]},
    "symbol": {"type": "string", "pattern": "^[A-Z]{1,5}(\\.[A-Z])?$"},
    "quantity": {"type": "number", "exclusiveMinimum": 0},
    "target_allocation_pct": {"type": "number", "minimum": 0, "maximum": 100},
    "stop_loss": {"type": "number", "exclusiveMinimum": 0},
    "take_profit": {"type": "number", "exclusiveMinimum": 0},
    "confidence": {"type": "string", "enum": ["low", "medium", "high"]},
    "reason": {"type": "string"}
  },
  "not": {"required": ["quantity", "target_allocation_pct"]}
}`
